package instagram

import (
	"context"

	"igpulse/pkg/crawler"
	"igpulse/pkg/models"
)

func toPage(resp *FeedResponse) crawler.Page {
	media := resp.Media()
	page := crawler.Page{Items: make([]models.RawPost, 0, len(media))}
	for _, m := range media {
		page.Items = append(page.Items, models.RawPost{Format: models.FormatMobile, Payload: m})
	}
	page.NextCursor = string(resp.NextMaxID)
	return page
}

// TimelineSource pages through the home feed
type TimelineSource struct {
	client *Client
}

// NewTimelineSource returns a crawler source over the home feed
func NewTimelineSource(c *Client) *TimelineSource {
	return &TimelineSource{client: c}
}

// FetchPage implements crawler.PageSource
func (s *TimelineSource) FetchPage(ctx context.Context, cursor string) (crawler.Page, error) {
	resp, err := s.client.Timeline(ctx, cursor)
	if err != nil {
		return crawler.Page{}, err
	}
	return toPage(resp), nil
}

// FetchPost implements crawler.PostFetcher
func (s *TimelineSource) FetchPost(ctx context.Context, idOrShortcode string) (models.RawPost, error) {
	return s.client.FetchPost(ctx, idOrShortcode)
}

// UserSource pages through one user's posts
type UserSource struct {
	client *Client
	userID string
}

// NewUserSource returns a crawler source over a user's feed
func NewUserSource(c *Client, userID string) *UserSource {
	return &UserSource{client: c, userID: userID}
}

// FetchPage implements crawler.PageSource
func (s *UserSource) FetchPage(ctx context.Context, cursor string) (crawler.Page, error) {
	resp, err := s.client.UserFeed(ctx, s.userID, cursor)
	if err != nil {
		return crawler.Page{}, err
	}
	return toPage(resp), nil
}

// FetchPost implements crawler.PostFetcher
func (s *UserSource) FetchPost(ctx context.Context, idOrShortcode string) (models.RawPost, error) {
	return s.client.FetchPost(ctx, idOrShortcode)
}

var (
	_ crawler.PageSource  = (*TimelineSource)(nil)
	_ crawler.PageSource  = (*UserSource)(nil)
	_ crawler.PostFetcher = (*Client)(nil)
)
