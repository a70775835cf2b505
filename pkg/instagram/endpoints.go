package instagram

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// BaseURL is the private mobile API root
	BaseURL = "https://i.instagram.com/api/v1"

	// WebBaseURL serves the public web pages and their JSON variants
	WebBaseURL = "https://www.instagram.com"

	// TimelineEndpoint is the home feed
	TimelineEndpoint = "feed/timeline/"

	// CurrentUserEndpoint describes the logged-in account
	CurrentUserEndpoint = "accounts/current_user/"
)

// UserFeedEndpoint returns the path of a user's media feed
func UserFeedEndpoint(userID string) string {
	return fmt.Sprintf("feed/user/%s/", url.PathEscape(userID))
}

// MediaInfoEndpoint returns the path describing a single media item
func MediaInfoEndpoint(mediaID string) string {
	return fmt.Sprintf("media/%s/info/", url.PathEscape(mediaID))
}

// UsernameInfoEndpoint returns the path that resolves a username to a user
func UsernameInfoEndpoint(username string) string {
	return fmt.Sprintf("users/%s/usernameinfo/", url.PathEscape(username))
}

// GetPostURL constructs the URL for a specific post
func GetPostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", WebBaseURL, shortcode)
}

// GetWebPostJSONURL returns the JSON variant of a post page
func GetWebPostJSONURL(base, shortcode string) string {
	if base == "" {
		base = WebBaseURL
	}
	params := url.Values{}
	params.Set("__a", "1")
	params.Set("__d", "dis")
	return fmt.Sprintf("%s/p/%s/?%s", strings.TrimRight(base, "/"), url.PathEscape(shortcode), params.Encode())
}

// GetUserProfileURL constructs the public profile URL for a user
func GetUserProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/", WebBaseURL, username)
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips a leading @ and trailing slashes or spaces
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}

// isNumericID reports whether s looks like a numeric media id
func isNumericID(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
