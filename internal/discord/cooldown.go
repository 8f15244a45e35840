package discord

import (
	"time"

	"github.com/Checker-Finance/panelbot/internal/jobs"
	"github.com/Checker-Finance/panelbot/internal/rate"
)

// Cooldowns tracks per-user, per-command cooldowns.
type Cooldowns struct {
	byCommand map[string]*rate.Manager
}

// NewCooldowns creates one cooldown bucket set per command. Commands without
// an entry, or with a zero duration, are never limited.
func NewCooldowns(durations map[string]time.Duration) *Cooldowns {
	c := &Cooldowns{byCommand: make(map[string]*rate.Manager, len(durations))}
	for cmd, d := range durations {
		if d > 0 {
			c.byCommand[cmd] = rate.NewManager(rate.Every(d))
		}
	}
	return c
}

// Take starts the user's cooldown for command, or reports how long is left.
func (c *Cooldowns) Take(command, userID string) (bool, time.Duration) {
	m, ok := c.byCommand[command]
	if !ok {
		return true, 0
	}
	return m.Take(userID)
}

// Refund cancels the cooldown started by the last Take.
func (c *Cooldowns) Refund(command, userID string) {
	if m, ok := c.byCommand[command]; ok {
		m.Refund(userID)
	}
}

// Pruners exposes the buckets to the cooldown sweeper.
func (c *Cooldowns) Pruners() map[string]jobs.Pruner {
	out := make(map[string]jobs.Pruner, len(c.byCommand))
	for cmd, m := range c.byCommand {
		out[cmd] = m
	}
	return out
}
