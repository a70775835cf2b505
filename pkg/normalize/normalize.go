package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"igpulse/pkg/models"
)

// Normalize converts a raw payload of any supported format into the
// canonical post record. It never panics and never returns an error: a
// payload that cannot be decoded yields a stub record (see IsStub) carrying
// the best-effort post id, the error and the raw payload.
func Normalize(raw models.RawPost) (post models.NormalizedPost) {
	defer func() {
		if r := recover(); r != nil {
			post = stub(raw, fmt.Errorf("panic: %v", r))
		}
	}()

	var err error
	switch raw.Format {
	case models.FormatMobile:
		post, err = fromMobile(raw.Payload)
	case models.FormatWeb:
		post, err = fromWeb(raw.Payload)
	case models.FormatLegacy:
		post, err = fromLegacy(raw.Payload)
	default:
		err = fmt.Errorf("unsupported format %q", raw.Format)
	}
	if err != nil {
		return stub(raw, err)
	}

	post.Source = raw.Format
	post.IsSponsored = IsSponsored(raw)
	finalize(&post)
	return post
}

// NormalizeAll normalizes each payload in order
func NormalizeAll(raws []models.RawPost) []models.NormalizedPost {
	out := make([]models.NormalizedPost, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw))
	}
	return out
}

// finalize replaces nil slices so every record serializes the same shape
func finalize(p *models.NormalizedPost) {
	if p.MediaType == "" {
		p.MediaType = models.MediaUnknown
	}
	if p.Images == nil {
		p.Images = []models.Image{}
	}
	if p.Videos == nil {
		p.Videos = []models.Video{}
	}
	if p.CarouselItems == nil {
		p.CarouselItems = []models.CarouselItem{}
	}
	for i := range p.CarouselItems {
		if p.CarouselItems[i].Images == nil {
			p.CarouselItems[i].Images = []models.Image{}
		}
		if p.CarouselItems[i].Videos == nil {
			p.CarouselItems[i].Videos = []models.Video{}
		}
	}
	p.AccessibilityCaptions = collectCaptions(p)
}

// collectCaptions flattens top-level, then per-carousel-item accessibility
// captions, dropping blanks and duplicates while keeping first-seen order.
// The top-level list may already hold captions gathered by the adapter.
func collectCaptions(p *models.NormalizedPost) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}
	for _, c := range p.AccessibilityCaptions {
		add(c)
	}
	for _, item := range p.CarouselItems {
		add(item.AccessibilityCaption)
	}
	return out
}

// stub builds the placeholder record for an unparseable payload
func stub(raw models.RawPost, err error) models.NormalizedPost {
	return models.NormalizedPost{
		PostID:                PostID(raw),
		MediaType:             models.MediaUnknown,
		Images:                []models.Image{},
		Videos:                []models.Video{},
		CarouselItems:         []models.CarouselItem{},
		AccessibilityCaptions: []string{},
		Source:                raw.Format,
		ParseError:            fmt.Sprintf("Failed to parse: %v", err),
		Raw:                   raw.Payload,
	}
}

type idProbe struct {
	PK        flexID `json:"pk"`
	ID        flexID `json:"id"`
	Code      string `json:"code"`
	Shortcode string `json:"shortcode"`
}

// PostID extracts the post id from a payload without fully decoding it.
// Mobile ids come from pk, web ids from id, legacy ids are decoded from the
// shortcode. Composite "<media>_<owner>" ids are cut to the media part.
// It returns "" when no id can be found.
func PostID(raw models.RawPost) string {
	if raw.Format == models.FormatWeb {
		if n, err := decodeWebNode(raw.Payload); err == nil {
			if n.ID != "" {
				return string(n.ID)
			}
			if id, err := ShortcodeToID(n.Shortcode); err == nil {
				return id
			}
		}
	}

	var probe idProbe
	if err := json.Unmarshal(raw.Payload, &probe); err != nil {
		return ""
	}

	if probe.PK != "" {
		return string(probe.PK)
	}
	if probe.ID != "" {
		return mediaID(string(probe.ID))
	}

	code := probe.Shortcode
	if code == "" {
		code = probe.Code
	}
	if code != "" {
		if id, err := ShortcodeToID(code); err == nil {
			return id
		}
	}
	return ""
}

// flexID accepts a JSON string or number and keeps its decimal text
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexID(str)
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("invalid id %s", s)
		}
		*f = flexID(s)
	}
	return nil
}

// mediaID cuts a composite "<media>_<owner>" id to its media part
func mediaID(id string) string {
	if i := strings.IndexByte(id, '_'); i > 0 {
		return id[:i]
	}
	return id
}

func unixTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
