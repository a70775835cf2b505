package normalize

import (
	"encoding/json"
	"fmt"

	"igpulse/pkg/models"
)

type edgeCount struct {
	Count int `json:"count"`
}

func (e *edgeCount) value() int {
	if e == nil {
		return 0
	}
	return e.Count
}

type webResource struct {
	Src          string `json:"src"`
	ConfigWidth  int    `json:"config_width"`
	ConfigHeight int    `json:"config_height"`
}

type webNode struct {
	Typename             string `json:"__typename"`
	ID                   flexID `json:"id"`
	Shortcode            string `json:"shortcode"`
	TakenAtTimestamp     int64  `json:"taken_at_timestamp"`
	IsVideo              bool   `json:"is_video"`
	DisplayURL           string `json:"display_url"`
	VideoURL             string `json:"video_url"`
	AccessibilityCaption string `json:"accessibility_caption"`
	ViewerHasLiked       bool   `json:"viewer_has_liked"`

	Dimensions struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"dimensions"`
	DisplayResources []webResource `json:"display_resources"`

	EdgeMediaToCaption struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	EdgeLikedBy          *edgeCount `json:"edge_liked_by"`
	EdgeMediaPreviewLike *edgeCount `json:"edge_media_preview_like"`
	EdgeMediaToComment   *edgeCount `json:"edge_media_to_comment"`

	Owner struct {
		ID         flexID `json:"id"`
		Username   string `json:"username"`
		FullName   string `json:"full_name"`
		IsPrivate  bool   `json:"is_private"`
		IsVerified bool   `json:"is_verified"`

		EdgeFollowedBy *edgeCount `json:"edge_followed_by"`
	} `json:"owner"`

	Location *struct {
		ID   flexID `json:"id"`
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"location"`

	EdgeSidecarToChildren *struct {
		Edges []struct {
			Node webNode `json:"node"`
		} `json:"edges"`
	} `json:"edge_sidecar_to_children"`
}

func (n *webNode) mediaType() models.MediaType {
	switch n.Typename {
	case "GraphImage":
		return models.MediaPhoto
	case "GraphVideo":
		return models.MediaVideo
	case "GraphSidecar":
		return models.MediaAlbum
	}
	if n.EdgeSidecarToChildren != nil && len(n.EdgeSidecarToChildren.Edges) > 0 {
		return models.MediaAlbum
	}
	if n.Typename == "" && n.IsVideo {
		return models.MediaVideo
	}
	if n.Typename == "" && n.DisplayURL != "" {
		return models.MediaPhoto
	}
	return models.MediaUnknown
}

func (n *webNode) images() []models.Image {
	var images []models.Image
	for _, r := range n.DisplayResources {
		images = append(images, models.Image{URL: r.Src, Width: r.ConfigWidth, Height: r.ConfigHeight})
	}
	if len(images) == 0 && n.DisplayURL != "" {
		images = append(images, models.Image{URL: n.DisplayURL, Width: n.Dimensions.Width, Height: n.Dimensions.Height})
	}
	return images
}

func (n *webNode) videos() []models.Video {
	if n.VideoURL == "" {
		return nil
	}
	return []models.Video{{URL: n.VideoURL, Width: n.Dimensions.Width, Height: n.Dimensions.Height}}
}

type webEnvelope struct {
	Graphql *struct {
		ShortcodeMedia *webNode `json:"shortcode_media"`
	} `json:"graphql"`
	Node *webNode `json:"node"`
}

// decodeWebNode accepts a bare node, an edge {"node": ...}, or the
// {"graphql": {"shortcode_media": ...}} page envelope.
func decodeWebNode(payload json.RawMessage) (*webNode, error) {
	var env webEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	switch {
	case env.Graphql != nil && env.Graphql.ShortcodeMedia != nil:
		return env.Graphql.ShortcodeMedia, nil
	case env.Node != nil:
		return env.Node, nil
	}

	var node webNode
	if err := json.Unmarshal(payload, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// fromWeb decodes a web GraphQL media node
func fromWeb(payload json.RawMessage) (models.NormalizedPost, error) {
	n, err := decodeWebNode(payload)
	if err != nil {
		return models.NormalizedPost{}, err
	}

	id := string(n.ID)
	if id == "" && n.Shortcode != "" {
		if id, err = ShortcodeToID(n.Shortcode); err != nil {
			return models.NormalizedPost{}, err
		}
	}
	if id == "" {
		return models.NormalizedPost{}, fmt.Errorf("graphql node has no id or shortcode")
	}

	post := models.NormalizedPost{
		PostID:    id,
		Shortcode: n.Shortcode,
		TakenAt:   unixTime(n.TakenAtTimestamp),
		MediaType: n.mediaType(),
		HasLiked:  n.ViewerHasLiked,
		Author: models.Author{
			ID:         string(n.Owner.ID),
			Username:   n.Owner.Username,
			FullName:   n.Owner.FullName,
			IsPrivate:  n.Owner.IsPrivate,
			IsVerified: n.Owner.IsVerified,

			FollowerCount: n.Owner.EdgeFollowedBy.value(),
		},
		Images: n.images(),
		Videos: n.videos(),
	}

	switch {
	case n.EdgeLikedBy != nil:
		post.LikeCount = n.EdgeLikedBy.Count
	case n.EdgeMediaPreviewLike != nil:
		post.LikeCount = n.EdgeMediaPreviewLike.Count
	}
	if n.EdgeMediaToComment != nil {
		post.CommentCount = n.EdgeMediaToComment.Count
	}
	if edges := n.EdgeMediaToCaption.Edges; len(edges) > 0 {
		post.Caption = edges[0].Node.Text
	}
	if n.Location != nil {
		post.Location = &models.Location{
			Name:       n.Location.Name,
			ShortName:  n.Location.Slug,
			ExternalID: string(n.Location.ID),
		}
	}
	if n.AccessibilityCaption != "" {
		post.AccessibilityCaptions = append(post.AccessibilityCaptions, n.AccessibilityCaption)
	}

	if n.EdgeSidecarToChildren != nil {
		for _, edge := range n.EdgeSidecarToChildren.Edges {
			child := edge.Node
			post.CarouselItems = append(post.CarouselItems, models.CarouselItem{
				ID:                   string(child.ID),
				MediaType:            child.mediaType(),
				Images:               child.images(),
				Videos:               child.videos(),
				AccessibilityCaption: child.AccessibilityCaption,
			})
		}
	}

	return post, nil
}
