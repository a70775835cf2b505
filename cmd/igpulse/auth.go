package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igpulse/pkg/auth"
	"igpulse/pkg/collector"
	"igpulse/pkg/ui"
)

var (
	loginSessionID string
	loginCSRFToken string
	loginUserAgent string
	loginNoVerify  bool
	logoutForget   bool
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Instagram cookies and sessions",
	Long: `Manage the browser cookies igpulse logs in with and the sessions built
from them.

Cookies are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read-only)

Never share your cookies or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in with browser cookies",
	Long: `Log in with the sessionid and csrftoken cookies of a logged-in browser.

The cookies are checked against Instagram, saved as a session for the
account and remembered so the session can be rebuilt when it expires.`,
	Example: `  # Interactive login
  igpulse auth login

  # Non-interactive login
  igpulse auth login myaccount --session-id "$SID" --csrf-token "$CSRF"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [username]",
	Short: "Retire the saved session",
	Long: `Retire the saved session of an account. The session file is moved into
the backups. With --forget the stored cookies are deleted as well.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Long:  `List all stored accounts with masked cookie values.`,
	RunE:  runList,
}

// statusCmd represents the auth status command
var statusCmd = &cobra.Command{
	Use:   "status [username]",
	Short: "Show the saved session of an account",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

// guideCmd represents the auth guide command
var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Explain how to copy cookies from the browser",
	Run: func(cmd *cobra.Command, args []string) {
		auth.ShowCookieExtractionGuide(cmd.OutOrStdout())
		auth.ShowQuickExtractGuide(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, logoutCmd, listCmd, statusCmd, guideCmd)

	loginCmd.Flags().StringVar(&loginSessionID, "session-id", "", "sessionid cookie value")
	loginCmd.Flags().StringVar(&loginCSRFToken, "csrf-token", "", "csrftoken cookie value")
	loginCmd.Flags().StringVar(&loginUserAgent, "user-agent", "", "user agent to send (default from config)")
	loginCmd.Flags().BoolVar(&loginNoVerify, "no-verify", false, "store the cookies without checking them")

	logoutCmd.Flags().BoolVar(&logoutForget, "forget", false, "also delete the stored cookies")
}

func argOrEmpty(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil, false, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	username := collector.NormalizeAccount(argOrEmpty(args))
	reader := bufio.NewReader(os.Stdin)
	interactive := loginSessionID == ""

	if interactive {
		auth.ShowCookieExtractionGuide(cmd.OutOrStdout())
		fmt.Print("Ready to enter your cookies? (Y/n): ")
		ready, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(ready)) == "n" {
			fmt.Println("\nRun 'igpulse auth login' when you're ready.")
			return nil
		}
		fmt.Println()
	}

	if username == "" {
		fmt.Print("Instagram username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = collector.NormalizeAccount(input)
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	sessionID := loginSessionID
	for sessionID == "" {
		fmt.Print("sessionid cookie value: ")
		if sessionID, err = readSecret(reader); err != nil {
			return fmt.Errorf("failed to read session ID: %w", err)
		}
		if len(sessionID) < 20 || !strings.Contains(sessionID, "%") {
			fmt.Println("That doesn't look like a valid sessionid. It is a long string containing %3A.")
			sessionID = ""
		}
	}

	csrfToken := loginCSRFToken
	if csrfToken == "" && interactive {
		fmt.Print("csrftoken cookie value: ")
		if csrfToken, err = readSecret(reader); err != nil {
			return fmt.Errorf("failed to read CSRF token: %w", err)
		}
	}

	account := &auth.Account{
		Username:     username,
		SessionID:    sessionID,
		CSRFToken:    csrfToken,
		UserAgent:    loginUserAgent,
		LastModified: time.Now(),
	}

	if loginNoVerify {
		if err := a.creds.Store(account); err != nil {
			return fmt.Errorf("failed to store cookies: %w", err)
		}
		ui.PrintSuccess("Cookies stored for " + username + " (not verified)")
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	ui.PrintInfo("Verifying cookies", username)
	sess, err := a.collector.Authenticator(username).LoginWithCookies(ctx, account)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Logged in as %s (user id %s)", sess.Username, sess.UserID))
	ui.Printf("\n%s\n", ui.Dim("Next: igpulse crawl timeline --account "+sess.Username))
	return nil
}

// readSecret reads a value from stdin without echoing when stdin is a
// terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil, false, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	username := collector.NormalizeAccount(argOrEmpty(args))
	if logoutForget && username == "" {
		return fmt.Errorf("--forget needs a username")
	}
	if err := a.collector.Authenticator(username).Logout(username, logoutForget); err != nil {
		return err
	}

	msg := "Session retired"
	if username != "" {
		msg += ": " + username
	}
	if logoutForget {
		msg += " (cookies deleted)"
	}
	ui.PrintSuccess(msg)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil, false, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.creds.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'igpulse auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	for i, account := range accounts {
		s := auth.SanitizeAccount(account)
		ui.Printf("\n%d. Username: %s\n", i+1, s.Username)
		if s.UserID != "" {
			ui.Printf("   User ID: %s\n", s.UserID)
		}
		ui.Printf("   Session ID: %s\n", s.SessionID)
		ui.Printf("   CSRF Token: %s\n", s.CSRFToken)
		if s.UserAgent != "" {
			ui.Printf("   User Agent: %s\n", s.UserAgent)
		}
		ui.Printf("   Last Modified: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil, false, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	username := argOrEmpty(args)
	store := a.collector.SessionStore(username)
	sess, err := store.Load()
	if err != nil {
		return err
	}

	ui.PrintInfo("Username", sess.Username)
	ui.PrintInfo("User ID", sess.UserID)
	ui.PrintInfo("Session file", store.Path())
	ui.PrintInfo("Age", fmt.Sprintf("%.1f hours", store.AgeHours(sess)))
	if store.IsStale(sess) {
		ui.PrintWarning("Session is stale and will be refreshed on next use")
	}
	backups, err := store.Backups()
	if err == nil {
		ui.PrintInfo("Backups", fmt.Sprint(len(backups)))
	}
	return nil
}
