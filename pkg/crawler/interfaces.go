package crawler

import (
	"context"

	"igpulse/pkg/models"
)

// Page is one page of a feed
type Page struct {
	Items      []models.RawPost
	NextCursor string
}

// PageSource fetches feed pages. An empty cursor asks for the first page.
type PageSource interface {
	FetchPage(ctx context.Context, cursor string) (Page, error)
}

// PostFetcher fetches a single post by numeric id or shortcode
type PostFetcher interface {
	FetchPost(ctx context.Context, idOrShortcode string) (models.RawPost, error)
}

// Sink receives collected posts. *poststore.Store implements it.
type Sink interface {
	Initialize(sessionID string) (string, error)
	Append(posts []models.NormalizedPost) error
}
