package auth

import (
	"context"
	"errors"
	"strings"

	igerrors "igpulse/pkg/errors"
	"igpulse/pkg/instagram"
	"igpulse/pkg/logger"
	"igpulse/pkg/session"
)

// Verifier is the part of the API client used to prove a session works
type Verifier interface {
	CurrentUser(ctx context.Context) (*instagram.UserInfo, error)
	Timeline(ctx context.Context, maxID string) (*instagram.FeedResponse, error)
}

// ClientFactory builds a Verifier authenticated as sess
type ClientFactory func(sess *session.Session) Verifier

// Authenticator turns stored cookies into a verified, persisted session
// and keeps that session fresh.
type Authenticator struct {
	store     *session.Store
	creds     *Manager
	newClient ClientFactory
	logger    logger.Logger
}

// NewAuthenticator wires a session store, a credential manager (may be
// nil) and a client factory
func NewAuthenticator(store *session.Store, creds *Manager, newClient ClientFactory, log logger.Logger) *Authenticator {
	return &Authenticator{
		store:     store,
		creds:     creds,
		newClient: newClient,
		logger:    logger.OrDefault(log).WithField("component", "authenticator"),
	}
}

// Login returns a usable session for username. The saved session is
// preferred; when it is missing, rejected or belongs to someone else the
// stored cookies are used to log in again. An empty username accepts
// whichever account is saved.
func (a *Authenticator) Login(ctx context.Context, username string) (*session.Session, error) {
	sess, err := a.LoginWithSession(ctx)
	if err == nil && (username == "" || strings.EqualFold(sess.Username, username)) {
		return sess, nil
	}
	if err != nil && !errors.Is(err, igerrors.ErrSessionNotFound) && !igerrors.IsType(err, igerrors.ErrorTypeAuth) {
		return nil, err
	}

	if a.creds == nil {
		if err == nil {
			err = igerrors.Newf(igerrors.ErrorTypeSession, "saved session belongs to %s, not %s", sess.Username, username)
		}
		return nil, err
	}

	var account *Account
	var credErr error
	if username == "" {
		account, credErr = a.creds.RetrieveDefault()
	} else {
		account, credErr = a.creds.Retrieve(username)
	}
	if credErr != nil {
		return nil, igerrors.Wrap(credErr, igerrors.ErrorTypeAuth, "no session and no stored cookies, run 'igpulse auth login'")
	}

	return a.LoginWithCookies(ctx, account)
}

// LoginWithCookies verifies browser cookies against the API, saves the
// resulting session and remembers the cookies. Device identifiers of a
// previously saved session for the same account are reused.
func (a *Authenticator) LoginWithCookies(ctx context.Context, account *Account) (*session.Session, error) {
	if err := account.Validate(); err != nil {
		return nil, igerrors.Wrap(err, igerrors.ErrorTypeAuth, "incomplete cookies")
	}

	sess := account.Session()
	if prev, err := a.store.Load(); err == nil && strings.EqualFold(prev.Username, account.Username) {
		sess.UUID, sess.PhoneID, sess.DeviceID = prev.UUID, prev.PhoneID, prev.DeviceID
	}
	sess.EnsureDeviceIDs()

	user, err := a.newClient(sess).CurrentUser(ctx)
	if err != nil {
		a.logger.WithError(err).WarnWithFields("Cookie login rejected", map[string]interface{}{
			"username": account.Username,
		})
		return nil, err
	}

	if user.Username != "" {
		sess.Username = user.Username
	}
	sess.UserID = user.ID()
	sess.Cookies["ds_user_id"] = sess.UserID

	if err := a.store.Save(sess); err != nil {
		return nil, err
	}

	if a.creds != nil {
		account.Username = sess.Username
		account.UserID = sess.UserID
		if err := a.creds.Store(account); err != nil {
			a.logger.WithError(err).Warn("Failed to remember cookies")
		}
	}

	a.logger.InfoWithFields("Logged in", map[string]interface{}{
		"username": sess.Username,
		"user_id":  sess.UserID,
	})
	return sess, nil
}

// LoginWithSession loads the saved session and refreshes it when stale
func (a *Authenticator) LoginWithSession(ctx context.Context) (*session.Session, error) {
	sess, err := a.store.Load()
	if err != nil {
		return nil, err
	}

	if a.store.IsStale(sess) {
		return a.Refresh(ctx, sess)
	}
	return sess, nil
}

// Refresh checks that sess still works and re-saves it with a new creation
// time and the same device identifiers. A rejected session is an auth
// error; any other failure keeps the current session.
func (a *Authenticator) Refresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	a.logger.InfoWithFields("Refreshing session", map[string]interface{}{
		"username":  sess.Username,
		"age_hours": a.store.AgeHours(sess),
	})

	if _, err := a.newClient(sess).Timeline(ctx, ""); err != nil {
		if igerrors.IsType(err, igerrors.ErrorTypeAuth) {
			return nil, igerrors.Wrap(err, igerrors.ErrorTypeAuth, "session expired, log in again")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		a.logger.WithError(err).Warn("Session refresh check failed, keeping current session")
		return sess, nil
	}

	refreshed := *sess
	refreshed.CreatedTS = 0
	if err := a.store.Save(&refreshed); err != nil {
		return nil, err
	}

	a.logger.Info("Session refreshed")
	return &refreshed, nil
}

// Logout retires the saved session. With forget the stored cookies for
// username are deleted as well.
func (a *Authenticator) Logout(username string, forget bool) error {
	if err := a.store.Supersede(); err != nil {
		return err
	}
	if forget && a.creds != nil && username != "" {
		if err := a.creds.Delete(username); err != nil && !errors.Is(err, ErrCredentialsNotFound) {
			return err
		}
	}
	a.logger.InfoWithFields("Logged out", map[string]interface{}{
		"username": username,
		"forget":   forget,
	})
	return nil
}
