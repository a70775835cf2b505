package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowCookieExtractionGuide writes step-by-step instructions for copying
// the session cookies out of a logged-in browser
func ShowCookieExtractionGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	lines := []string{
		rule,
		"INSTAGRAM COOKIE EXTRACTION GUIDE",
		rule,
		"",
		"igpulse reads your feed with the cookies of a logged-in browser.",
		"",
		"STEP 1: Log in at https://www.instagram.com and open your feed",
		"",
		"STEP 2: Open Developer Tools (F12, or Cmd+Option+I on Mac)",
		"",
		"STEP 3: Application tab (Chrome) or Storage tab (Firefox)",
		"   Cookies -> https://www.instagram.com",
		"",
		"STEP 4: Copy these values:",
		"   sessionid    long string containing %3A",
		"   csrftoken    32 characters",
		"   ds_user_id   your numeric user id (optional)",
		"",
		"TIPS:",
		"   Copy the whole value, without quotes or semicolons.",
		"   Cookies expire; run 'igpulse auth login' again when crawls report auth errors.",
		"",
		"SECURITY: these cookies give full access to your account. Never share them.",
		rule,
		"",
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

// ShowQuickExtractGuide writes the condensed version
func ShowQuickExtractGuide(w io.Writer) {
	fmt.Fprintln(w, "Cookies: F12 -> Application -> Cookies -> instagram.com")
	fmt.Fprintln(w, "   Need: sessionid and csrftoken (ds_user_id optional)")
	fmt.Fprintln(w, "   Type 'help' for detailed instructions")
}
