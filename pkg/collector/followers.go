package collector

import (
	"errors"
	"os"
	"path/filepath"

	"igpulse/pkg/checkpoint"
)

const followersFile = "followers.json"

// followersPath holds follower counts learned from profile lookups. The
// cache is shared by every account since counts belong to the author.
func (c *Collector) followersPath() string {
	return filepath.Join(c.cfg.Session.Directory, followersFile)
}

func (c *Collector) loadFollowersLocked() map[string]int {
	if c.followers != nil {
		return c.followers
	}
	c.followers = make(map[string]int)
	var stored map[string]int
	if err := checkpoint.ReadJSON(c.followersPath(), &stored); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.WithError(err).Warn("Ignoring unreadable follower cache")
		}
		return c.followers
	}
	for name, n := range stored {
		if name = NormalizeAccount(name); name != "" && n > 0 {
			c.followers[name] = n
		}
	}
	return c.followers
}

// RememberFollowers records the follower count of username so later
// scoring can compute engagement for its posts
func (c *Collector) RememberFollowers(username string, count int) {
	username = NormalizeAccount(username)
	if username == "" || count <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	followers := c.loadFollowersLocked()
	if followers[username] == count {
		return
	}
	followers[username] = count
	if err := checkpoint.WriteJSON(c.followersPath(), followers, 0600); err != nil {
		c.logger.WithError(err).Warn("Failed to save follower cache")
	}
}

// FollowerCounts merges configured follower counts with the ones learned
// from lookups. Learned counts win.
func (c *Collector) FollowerCounts() map[string]int {
	counts := make(map[string]int, len(c.cfg.Scoring.FollowerCounts))
	for name, n := range c.cfg.Scoring.FollowerCounts {
		if name = NormalizeAccount(name); name != "" && n > 0 {
			counts[name] = n
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name, n := range c.loadFollowersLocked() {
		counts[name] = n
	}
	return counts
}
