package normalize

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"igpulse/pkg/models"
)

const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

var sixtyFour = big.NewInt(64)

// ShortcodeToID decodes a post shortcode into its numeric media id.
// Shortcodes are base64 numbers over a URL-safe alphabet and can exceed
// 64 bits, so the arithmetic is done with big.Int.
func ShortcodeToID(shortcode string) (string, error) {
	if shortcode == "" {
		return "", fmt.Errorf("empty shortcode")
	}
	id := new(big.Int)
	for _, ch := range shortcode {
		idx := strings.IndexRune(shortcodeAlphabet, ch)
		if idx < 0 {
			return "", fmt.Errorf("invalid shortcode character %q in %q", ch, shortcode)
		}
		id.Mul(id, sixtyFour)
		id.Add(id, big.NewInt(int64(idx)))
	}
	return id.String(), nil
}

// IDToShortcode encodes a numeric media id as a shortcode
func IDToShortcode(id string) (string, error) {
	n, ok := new(big.Int).SetString(id, 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("invalid media id %q", id)
	}
	if n.Sign() == 0 {
		return shortcodeAlphabet[:1], nil
	}

	var out []byte
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, sixtyFour, mod)
		out = append(out, shortcodeAlphabet[mod.Int64()])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// fromLegacy builds a minimal record from {"shortcode": ...}
func fromLegacy(payload json.RawMessage) (models.NormalizedPost, error) {
	var rec struct {
		Shortcode string `json:"shortcode"`
		Code      string `json:"code"`
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return models.NormalizedPost{}, err
	}
	code := rec.Shortcode
	if code == "" {
		code = rec.Code
	}

	id, err := ShortcodeToID(code)
	if err != nil {
		return models.NormalizedPost{}, err
	}
	return models.NormalizedPost{
		PostID:    id,
		Shortcode: code,
		MediaType: models.MediaUnknown,
	}, nil
}
