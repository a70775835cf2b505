package instagram

import (
	"encoding/json"
	"strings"
)

// apiStatus is the envelope every private API response carries
type apiStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

// cursor accepts next_max_id as either a string or a number
type cursor string

func (c *cursor) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*c = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*c = cursor(str)
		return nil
	}
	*c = cursor(s)
	return nil
}

// FeedItem wraps one entry of the home timeline. Entries without
// media_or_ad are suggestions or other injected units.
type FeedItem struct {
	MediaOrAd json.RawMessage `json:"media_or_ad"`
}

// FeedResponse is a page of either the timeline or a user feed
type FeedResponse struct {
	apiStatus
	FeedItems     []FeedItem        `json:"feed_items"`
	Items         []json.RawMessage `json:"items"`
	NextMaxID     cursor            `json:"next_max_id"`
	MoreAvailable bool              `json:"more_available"`
	NumResults    int               `json:"num_results"`
}

// Media returns the raw media payloads of the page in feed order
func (r *FeedResponse) Media() []json.RawMessage {
	var media []json.RawMessage
	for _, item := range r.FeedItems {
		if len(item.MediaOrAd) > 0 && string(item.MediaOrAd) != "null" {
			media = append(media, item.MediaOrAd)
		}
	}
	if len(media) == 0 {
		media = append(media, r.Items...)
	}
	return media
}

// MediaInfoResponse is the reply of media/{id}/info/
type MediaInfoResponse struct {
	apiStatus
	Items []json.RawMessage `json:"items"`
}

// UserInfo describes an account
type UserInfo struct {
	PK            flexString `json:"pk"`
	Username      string     `json:"username"`
	FullName      string     `json:"full_name"`
	IsPrivate     bool       `json:"is_private"`
	IsVerified    bool       `json:"is_verified"`
	FollowerCount int        `json:"follower_count"`
}

// ID returns the numeric user id as a string
func (u *UserInfo) ID() string {
	return string(u.PK)
}

// UserResponse is the reply of the current-user and usernameinfo endpoints
type UserResponse struct {
	apiStatus
	User UserInfo `json:"user"`
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var c cursor
	if err := c.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = flexString(c)
	return nil
}
