// Package normalize turns raw Instagram media payloads into
// models.NormalizedPost records.
//
// Three payload shapes are understood: private mobile API items, web
// GraphQL nodes and a legacy record that only carries a shortcode. Each has
// its own typed adapter. Normalize never fails; a payload that cannot be
// decoded becomes a stub record whose ParseError explains why.
//
// Sponsored detection lives here too because it inspects the raw payload,
// not the normalized record.
package normalize
