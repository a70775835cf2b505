// Package scoring ranks collected posts by how likely they are to matter to
// the viewer, with a bias toward posts announcing events.
//
// Five factors are scored in [0,1] and combined by a weighted sum:
// relationship to the author, caption content, event keywords, engagement
// relative to followers and recency. The result is rounded to three
// decimals.
package scoring
