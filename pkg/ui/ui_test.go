package ui

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"igpulse/pkg/crawler"
	"igpulse/pkg/digest"
)

type recordingSender struct {
	titles   []string
	messages []string
	err      error
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return r.err
}

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetNoColor(true)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetNoColor(false)
		SetQuietMode(false)
	})
	return &buf
}

func TestBar(t *testing.T) {
	tests := []struct {
		ratio  float64
		filled int
	}{
		{0, 0},
		{0.5, 10},
		{1, 20},
		{1.7, 20},
		{-1, 0},
	}
	for _, tt := range tests {
		bar := Bar(tt.ratio)
		if got := strings.Count(bar, ProgressBar); got != tt.filled {
			t.Errorf("Bar(%v) filled = %d, want %d", tt.ratio, got, tt.filled)
		}
		if got := strings.Count(bar, ProgressBar) + strings.Count(bar, ProgressEmpty); got != barWidth {
			t.Errorf("Bar(%v) width = %d, want %d", tt.ratio, got, barWidth)
		}
	}
}

func TestScoreBarAndCrawlProgress(t *testing.T) {
	if got := ScoreBar(0.25); !strings.HasSuffix(got, "] 0.250") {
		t.Errorf("ScoreBar() = %q", got)
	}
	if got := CrawlProgress(5, 10); !strings.HasSuffix(got, "] 5/10") {
		t.Errorf("CrawlProgress() = %q", got)
	}
	if got := CrawlProgress(3, 0); !strings.HasSuffix(got, "] 3") {
		t.Errorf("CrawlProgress() without target = %q", got)
	}
}

func TestQuietModeKeepsErrors(t *testing.T) {
	buf := capture(t)
	SetQuietMode(true)

	PrintInfo("label", "value")
	PrintSuccess("done")
	PrintError("boom", "detail")

	if got := buf.String(); got != "boom: detail\n" {
		t.Errorf("quiet output = %q", got)
	}
}

func TestNoColor(t *testing.T) {
	buf := capture(t)
	PrintInfo("Account", "alice")
	if got := buf.String(); got != "Account: alice\n" {
		t.Errorf("plain output = %q", got)
	}
}

func TestPrintCrawlStats(t *testing.T) {
	buf := capture(t)
	PrintCrawlStats(crawler.Stats{Collected: 4, Pages: 2, Sponsored: 1, Duration: 3 * time.Second}, 8)

	out := buf.String()
	for _, want := range []string{"4/8", "pages: 2", "sponsored: 1", "3s"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "parse errors") {
		t.Errorf("error line printed without errors:\n%s", out)
	}
}

func TestSendDigest(t *testing.T) {
	buf := capture(t)
	sender := &recordingSender{}
	n := NewNotifierWithSender(sender)

	if err := n.SendDigest("alice", &digest.Notification{Text: "2 new posts"}); err != nil {
		t.Fatalf("SendDigest() error = %v", err)
	}
	if len(sender.titles) != 1 || sender.titles[0] != "igpulse: @alice" {
		t.Errorf("titles = %v", sender.titles)
	}
	if sender.messages[0] != "2 new posts" {
		t.Errorf("message = %q", sender.messages[0])
	}
	if !strings.Contains(buf.String(), "2 new posts") {
		t.Errorf("terminal copy missing: %q", buf.String())
	}

	if err := n.SendDigest("alice", nil); err != nil {
		t.Errorf("nil digest error = %v", err)
	}
	if len(sender.titles) != 1 {
		t.Errorf("nil digest was sent")
	}
}

func TestSendDigestReturnsSenderError(t *testing.T) {
	capture(t)
	n := NewNotifierWithSender(&recordingSender{err: errors.New("no display")})
	if err := n.SendDigest("", &digest.Notification{Text: "x"}); err == nil {
		t.Error("expected sender error")
	}
}

func TestTerminalOnlyNotifier(t *testing.T) {
	buf := capture(t)
	n := NewNotifier(false)
	if err := n.SendNotification("title", "body"); err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}
	if !strings.Contains(buf.String(), "body") {
		t.Errorf("output = %q", buf.String())
	}
}
