// Package identity decides which chat users may talk to the bot.
package identity

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// Allowlist is the set of authorized user ids. An empty list admits everyone.
type Allowlist struct {
	ids map[int64]struct{}
}

// ParseAllowlist reads a comma-separated list of numeric user ids.
func ParseAllowlist(csv string) (*Allowlist, error) {
	a := &Allowlist{ids: make(map[int64]struct{})}
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		a.ids[id] = struct{}{}
	}
	return a, nil
}

// NewAllowlist builds an allowlist from ids.
func NewAllowlist(ids ...int64) *Allowlist {
	a := &Allowlist{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		a.ids[id] = struct{}{}
	}
	return a
}

// Open reports whether every user is admitted.
func (a *Allowlist) Open() bool {
	return a == nil || len(a.ids) == 0
}

// Allowed reports whether userID may use the bot.
func (a *Allowlist) Allowed(userID int64) bool {
	if a.Open() {
		return true
	}
	_, ok := a.ids[userID]
	return ok
}

// IDs returns the members in ascending order.
func (a *Allowlist) IDs() []int64 {
	if a == nil {
		return nil
	}
	out := make([]int64, 0, len(a.ids))
	for id := range a.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// LogMode records the access mode at startup.
func (a *Allowlist) LogMode(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if a.Open() {
		logger.Warn("No TELEGRAM_ADMIN_IDS set, all users allowed")
		return
	}
	logger.Info("Allowed users", "ids", a.IDs())
}
