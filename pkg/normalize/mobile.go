package normalize

import (
	"encoding/json"
	"fmt"

	"igpulse/pkg/models"
)

type mobileUser struct {
	PK         flexID `json:"pk"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	IsPrivate  bool   `json:"is_private"`
	IsVerified bool   `json:"is_verified"`

	FollowerCount int `json:"follower_count"`
}

type mobileLocation struct {
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	City       string  `json:"city"`
	ShortName  string  `json:"short_name"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	ExternalID flexID  `json:"external_id"`
}

type mobileImage struct {
	URL                  string `json:"url"`
	Width                int    `json:"width"`
	Height               int    `json:"height"`
	AccessibilityCaption string `json:"accessibility_caption"`
}

type mobileVideo struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Type   int    `json:"type"`
}

type mobileMedia struct {
	PK        flexID `json:"pk"`
	ID        flexID `json:"id"`
	Code      string `json:"code"`
	TakenAt   int64  `json:"taken_at"`
	MediaType int    `json:"media_type"`

	LikeCount    int  `json:"like_count"`
	CommentCount int  `json:"comment_count"`
	HasLiked     bool `json:"has_liked"`

	Caption *struct {
		Text string `json:"text"`
	} `json:"caption"`
	User     mobileUser      `json:"user"`
	Location *mobileLocation `json:"location"`

	ImageVersions2 *struct {
		Candidates []mobileImage `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions        []mobileVideo `json:"video_versions"`
	CarouselMedia        []mobileMedia `json:"carousel_media"`
	AccessibilityCaption string        `json:"accessibility_caption"`
}

func mobileMediaType(t int) models.MediaType {
	switch t {
	case 1:
		return models.MediaPhoto
	case 2:
		return models.MediaVideo
	case 8:
		return models.MediaAlbum
	default:
		return models.MediaUnknown
	}
}

func (m *mobileMedia) postID() string {
	if m.PK != "" {
		return string(m.PK)
	}
	return mediaID(string(m.ID))
}

func (m *mobileMedia) images() ([]models.Image, []string) {
	if m.ImageVersions2 == nil {
		return nil, nil
	}
	var images []models.Image
	var captions []string
	for _, c := range m.ImageVersions2.Candidates {
		images = append(images, models.Image{URL: c.URL, Width: c.Width, Height: c.Height})
		if c.AccessibilityCaption != "" {
			captions = append(captions, c.AccessibilityCaption)
		}
	}
	return images, captions
}

func (m *mobileMedia) videos() []models.Video {
	var videos []models.Video
	for _, v := range m.VideoVersions {
		videos = append(videos, models.Video{URL: v.URL, Width: v.Width, Height: v.Height, Type: v.Type})
	}
	return videos
}

// fromMobile decodes a private-API media item
func fromMobile(payload json.RawMessage) (models.NormalizedPost, error) {
	var m mobileMedia
	if err := json.Unmarshal(payload, &m); err != nil {
		return models.NormalizedPost{}, err
	}
	if m.postID() == "" {
		return models.NormalizedPost{}, fmt.Errorf("media item has no pk")
	}

	post := models.NormalizedPost{
		PostID:       m.postID(),
		Shortcode:    m.Code,
		TakenAt:      unixTime(m.TakenAt),
		MediaType:    mobileMediaType(m.MediaType),
		LikeCount:    m.LikeCount,
		CommentCount: m.CommentCount,
		HasLiked:     m.HasLiked,
		Author: models.Author{
			ID:         string(m.User.PK),
			Username:   m.User.Username,
			FullName:   m.User.FullName,
			IsPrivate:  m.User.IsPrivate,
			IsVerified: m.User.IsVerified,

			FollowerCount: m.User.FollowerCount,
		},
		Videos: m.videos(),
	}
	if post.Shortcode == "" && post.PostID != "" {
		if code, err := IDToShortcode(post.PostID); err == nil {
			post.Shortcode = code
		}
	}
	if m.Caption != nil {
		post.Caption = m.Caption.Text
	}
	if loc := m.Location; loc != nil {
		post.Location = &models.Location{
			Name:       loc.Name,
			Address:    loc.Address,
			City:       loc.City,
			ShortName:  loc.ShortName,
			Lat:        loc.Lat,
			Lng:        loc.Lng,
			ExternalID: string(loc.ExternalID),
		}
	}

	var imageCaptions []string
	post.Images, imageCaptions = m.images()
	if m.AccessibilityCaption != "" {
		post.AccessibilityCaptions = append(post.AccessibilityCaptions, m.AccessibilityCaption)
	}
	post.AccessibilityCaptions = append(post.AccessibilityCaptions, imageCaptions...)

	for _, child := range m.CarouselMedia {
		images, captions := child.images()
		item := models.CarouselItem{
			ID:                   child.postID(),
			MediaType:            mobileMediaType(child.MediaType),
			Images:               images,
			Videos:               child.videos(),
			AccessibilityCaption: child.AccessibilityCaption,
		}
		if child.AccessibilityCaption != "" {
			post.AccessibilityCaptions = append(post.AccessibilityCaptions, child.AccessibilityCaption)
		}
		post.AccessibilityCaptions = append(post.AccessibilityCaptions, captions...)
		post.CarouselItems = append(post.CarouselItems, item)
	}

	return post, nil
}
