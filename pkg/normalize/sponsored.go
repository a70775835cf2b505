package normalize

import (
	"bytes"
	"encoding/json"
	"strings"

	"igpulse/pkg/models"
)

// productTagThreshold is the number of product plus shopping tags above
// which a post is treated as commercial.
const productTagThreshold = 3

type fields map[string]json.RawMessage

type signal struct {
	name  string
	check func(fields) bool
}

// signals are evaluated in order; IsSponsored stops at the first hit
var signals = []signal{
	{"is_ad", func(f fields) bool { return truthy(f["is_ad"]) }},
	{"is_paid_partnership", func(f fields) bool { return truthy(f["is_paid_partnership"]) }},
	{"ad_id", func(f fields) bool {
		if truthy(f["ad_id"]) {
			return true
		}
		return truthy(sub(f, "injected")["ad_id"])
	}},
	{"ad_action", func(f fields) bool {
		return truthy(f["ad_action"]) || truthy(f["ad_link_type"]) || truthy(f["link_type"])
	}},
	{"branded_content", func(f fields) bool { return truthy(f["branded_content_tag_info"]) }},
	{"sponsor_tags", func(f fields) bool {
		if truthy(f["sponsor_tags"]) {
			return true
		}
		var edge struct {
			Edges []json.RawMessage `json:"edges"`
		}
		if raw, ok := f["edge_media_to_sponsor_user"]; ok && json.Unmarshal(raw, &edge) == nil {
			return len(edge.Edges) > 0
		}
		return false
	}},
	{"ad_metadata", func(f fields) bool {
		return present(f["ad_metadata"]) || present(f["ad_display_context"]) || present(f["dr_ad_type"])
	}},
	{"commerce_promotion", func(f fields) bool {
		return present(f["commerce_promotion"]) || strings.EqualFold(stringField(f["commerciality_status"]), "promotion")
	}},
	{"paid_partnership_label", func(f fields) bool {
		return stringField(f["label"]) == "PAID_PARTNERSHIP" || stringField(f["sponsor_label"]) == "PAID_PARTNERSHIP"
	}},
	{"product_tags", func(f fields) bool {
		return countTags(f["product_tags"])+countTags(f["shopping_tags"]) > productTagThreshold
	}},
}

// IsSponsored reports whether any advertising signal is present in the
// raw payload. Payloads that are not JSON objects are never sponsored.
func IsSponsored(raw models.RawPost) bool {
	f := decodeFields(raw.Payload)
	if f == nil {
		return false
	}
	for _, s := range signals {
		if s.check(f) {
			return true
		}
	}
	return false
}

// SponsorSignals lists the name of every signal that fired, in evaluation
// order.
func SponsorSignals(raw models.RawPost) []string {
	f := decodeFields(raw.Payload)
	if f == nil {
		return nil
	}
	var fired []string
	for _, s := range signals {
		if s.check(f) {
			fired = append(fired, s.name)
		}
	}
	return fired
}

// decodeFields returns the top-level object, unwrapping a graphql envelope
func decodeFields(payload json.RawMessage) fields {
	var f fields
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil
	}
	if media := sub(sub(f, "graphql"), "shortcode_media"); media != nil {
		return media
	}
	if node := sub(f, "node"); node != nil {
		return node
	}
	return f
}

func sub(f fields, key string) fields {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var out fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// truthy follows the usual JSON truthiness: false, null, 0, "" and empty
// containers are false.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if !present(raw) {
		return false
	}
	switch raw[0] {
	case 't':
		return true
	case 'f':
		return false
	case '"':
		return stringField(raw) != ""
	case '[':
		var arr []json.RawMessage
		return json.Unmarshal(raw, &arr) == nil && len(arr) > 0
	case '{':
		var obj map[string]json.RawMessage
		return json.Unmarshal(raw, &obj) == nil && len(obj) > 0
	default:
		var n float64
		return json.Unmarshal(raw, &n) == nil && n != 0
	}
}

func stringField(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// countTags counts a tag list given either as an array or as {"in": [...]}
func countTags(raw json.RawMessage) int {
	if !present(raw) {
		return 0
	}
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		return len(arr)
	}
	var wrapped struct {
		In []json.RawMessage `json:"in"`
	}
	if json.Unmarshal(raw, &wrapped) == nil {
		return len(wrapped.In)
	}
	return 0
}
