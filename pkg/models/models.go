package models

import (
	"encoding/json"
	"time"
)

// Format identifies which API shape a raw payload came from
type Format string

const (
	FormatMobile Format = "mobile"
	FormatWeb    Format = "web"
	FormatLegacy Format = "legacy"
)

// RawPost is an undecoded post payload tagged with its source format
type RawPost struct {
	Format  Format          `json:"format"`
	Payload json.RawMessage `json:"payload"`
}

// MediaType is the canonical kind of a post
type MediaType string

const (
	MediaPhoto   MediaType = "photo"
	MediaVideo   MediaType = "video"
	MediaAlbum   MediaType = "album"
	MediaUnknown MediaType = "unknown"
)

// Author is the account that published a post
type Author struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	IsPrivate  bool   `json:"is_private"`
	IsVerified bool   `json:"is_verified"`

	// FollowerCount is zero when the payload did not carry it
	FollowerCount int `json:"follower_count,omitempty"`
}

// Location is the place tagged on a post
type Location struct {
	Name       string  `json:"name"`
	Address    string  `json:"address,omitempty"`
	City       string  `json:"city,omitempty"`
	ShortName  string  `json:"short_name,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lng        float64 `json:"lng,omitempty"`
	ExternalID string  `json:"external_id,omitempty"`
}

// Image is one rendition of a picture
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Video is one rendition of a video
type Video struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Type   int    `json:"type,omitempty"`
}

// CarouselItem is one child of an album post
type CarouselItem struct {
	ID                   string    `json:"id"`
	MediaType            MediaType `json:"media_type"`
	Images               []Image   `json:"images"`
	Videos               []Video   `json:"videos"`
	AccessibilityCaption string    `json:"accessibility_caption,omitempty"`
}

// NormalizedPost is the canonical post record persisted by the collector
type NormalizedPost struct {
	PostID                string         `json:"post_id"`
	Shortcode             string         `json:"shortcode"`
	TakenAt               time.Time      `json:"taken_at"`
	MediaType             MediaType      `json:"media_type"`
	LikeCount             int            `json:"like_count"`
	CommentCount          int            `json:"comment_count"`
	Caption               string         `json:"caption"`
	Author                Author         `json:"author"`
	Location              *Location      `json:"location,omitempty"`
	Images                []Image        `json:"images"`
	Videos                []Video        `json:"videos"`
	CarouselItems         []CarouselItem `json:"carousel_items"`
	AccessibilityCaptions []string       `json:"accessibility_captions"`
	IsSponsored           bool           `json:"is_sponsored"`
	HasLiked              bool           `json:"has_liked"`
	Source                Format         `json:"source,omitempty"`

	// Set only on stub records produced when a payload could not be parsed
	ParseError string          `json:"parse_error,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// IsStub reports whether the record is a parse-failure placeholder
func (p *NormalizedPost) IsStub() bool {
	return p.ParseError != ""
}

// Engagement is likes plus comments
func (p *NormalizedPost) Engagement() int {
	return p.LikeCount + p.CommentCount
}
