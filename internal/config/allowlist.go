package config

import (
	"slices"

	"relaybot/internal/domain"
)

// Allowlist decides which identities the bot answers. An empty list allows everyone.
type Allowlist struct {
	ids map[domain.Identity]struct{}
}

// NewAllowlist builds an Allowlist from cfg.Telegram.AllowedUsers.
func NewAllowlist(cfg *domain.Config) *Allowlist {
	a := &Allowlist{ids: make(map[domain.Identity]struct{})}
	if cfg == nil {
		return a
	}
	for _, id := range cfg.Telegram.AllowedUsers {
		a.ids[domain.Identity(id)] = struct{}{}
	}
	return a
}

// Allows reports whether id may use the bot.
func (a *Allowlist) Allows(id domain.Identity) bool {
	if a == nil || len(a.ids) == 0 {
		return true
	}
	_, ok := a.ids[id]
	return ok
}

// Len returns the number of listed identities; zero means open access.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.ids)
}

// AddAllowedUser adds id to cfg.Telegram.AllowedUsers if not already present.
// It reports whether the list changed.
func AddAllowedUser(cfg *domain.Config, id int64) bool {
	if cfg == nil || slices.Contains(cfg.Telegram.AllowedUsers, id) {
		return false
	}
	cfg.Telegram.AllowedUsers = append(cfg.Telegram.AllowedUsers, id)
	slices.Sort(cfg.Telegram.AllowedUsers)
	return true
}

// RemoveAllowedUser removes id from cfg.Telegram.AllowedUsers.
// It reports whether the list changed.
func RemoveAllowedUser(cfg *domain.Config, id int64) bool {
	if cfg == nil {
		return false
	}
	before := len(cfg.Telegram.AllowedUsers)
	cfg.Telegram.AllowedUsers = slices.DeleteFunc(cfg.Telegram.AllowedUsers, func(v int64) bool { return v == id })
	return len(cfg.Telegram.AllowedUsers) != before
}
