package digest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/scoring"
)

// Ledger records which posts were already surfaced to an account so a post
// is delivered once
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// OpenLedger opens or creates the SQLite ledger at path. ":memory:" gives a
// throwaway ledger.
func OpenLedger(path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to create ledger directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to open ledger")
	}
	// A single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to migrate ledger")
	}
	return l, nil
}

// Close closes the database
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS delivered_posts (
		account TEXT NOT NULL,
		post_id TEXT NOT NULL,
		score REAL NOT NULL,
		delivered_at DATETIME NOT NULL,
		PRIMARY KEY (account, post_id)
	);

	CREATE INDEX IF NOT EXISTS idx_delivered_at ON delivered_posts(delivered_at);
	`

	_, err := l.db.Exec(schema)
	return err
}

// MarkDelivered records posts as delivered to account. Posts already in the
// ledger keep their first delivery.
func (l *Ledger) MarkDelivered(ctx context.Context, account string, posts []scoring.ScoredPost) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to begin ledger transaction")
	}
	defer tx.Rollback()

	now := l.now().UTC()
	for _, p := range posts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO delivered_posts (account, post_id, score, delivered_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account, post_id) DO NOTHING
		`, account, p.Post.PostID, p.FinalScore, now)
		if err != nil {
			return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to record delivery")
		}
	}

	if err := tx.Commit(); err != nil {
		return igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to commit deliveries")
	}
	return nil
}

// IsDelivered reports whether postID was already delivered to account
func (l *Ledger) IsDelivered(ctx context.Context, account, postID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM delivered_posts WHERE account = ? AND post_id = ?)`,
		account, postID,
	).Scan(&exists)
	if err != nil {
		return false, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to query ledger")
	}
	return exists, nil
}

// FilterUndelivered drops posts already delivered to account, keeping order
func (l *Ledger) FilterUndelivered(ctx context.Context, account string, posts []scoring.ScoredPost) ([]scoring.ScoredPost, error) {
	var out []scoring.ScoredPost
	for _, p := range posts {
		delivered, err := l.IsDelivered(ctx, account, p.Post.PostID)
		if err != nil {
			return nil, err
		}
		if !delivered {
			out = append(out, p)
		}
	}
	return out, nil
}

// Delivery is one ledger row
type Delivery struct {
	Account     string
	PostID      string
	Score       float64
	DeliveredAt time.Time
}

// History returns the most recent deliveries to account, newest first
func (l *Ledger) History(ctx context.Context, account string, limit int) ([]Delivery, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT account, post_id, score, delivered_at
		FROM delivered_posts
		WHERE account = ?
		ORDER BY delivered_at DESC, post_id
		LIMIT ?
	`, account, limit)
	if err != nil {
		return nil, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to query ledger")
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.Account, &d.PostID, &d.Score, &d.DeliveredAt); err != nil {
			return nil, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to scan delivery")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune forgets deliveries older than cutoff and returns how many were removed
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM delivered_posts WHERE delivered_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, igerrors.Wrap(err, igerrors.ErrorTypeStorage, "failed to prune ledger")
	}
	return res.RowsAffected()
}
