package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"igpulse/pkg/digest"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	esc := func(s string) string {
		s = strings.ReplaceAll(s, "&", "&amp;")
		s = strings.ReplaceAll(s, "<", "&lt;")
		return strings.ReplaceAll(s, ">", "&gt;")
	}
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("igpulse").Show($toast)
	`, esc(title), esc(message))

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

// Notifier prints notifications to the terminal and, when enabled, raises
// a desktop notification as well.
type Notifier struct {
	sender NotificationSender
}

// NewNotifier creates a Notifier for the current platform. With desktop
// false, notifications only go to the terminal.
func NewNotifier(desktop bool) *Notifier {
	if !desktop {
		return &Notifier{}
	}

	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	case "windows":
		sender = &WindowsNotificationSender{}
	}
	return &Notifier{sender: sender}
}

// NewNotifierWithSender uses a custom sender
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// SendNotification prints the notification and forwards it to the desktop.
// The desktop error is returned; the terminal copy is always written.
func (n *Notifier) SendNotification(title, message string) error {
	Printf("\n%s\n%s\n", Cyan(title), message)
	if n.sender == nil {
		return nil
	}
	return n.sender.Send(title, message)
}

// SendDigest delivers a formatted digest notification
func (n *Notifier) SendDigest(account string, note *digest.Notification) error {
	if note == nil {
		return nil
	}
	title := "igpulse"
	if account != "" {
		title = "igpulse: @" + account
	}
	return n.SendNotification(title, note.Text)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	Printf("\n%s: %s\n", Red(title), Red(message))
	if n.sender != nil {
		_ = n.sender.Send(title, message)
	}
}
