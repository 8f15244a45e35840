package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pruner drops idle entries and reports how many were removed.
type Pruner interface {
	Prune() int
}

// CooldownSweeper periodically prunes idle per-user cooldown buckets.
type CooldownSweeper struct {
	logger   *zap.Logger
	targets  map[string]Pruner
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCooldownSweeper(logger *zap.Logger, targets map[string]Pruner, interval time.Duration) *CooldownSweeper {
	return &CooldownSweeper{
		logger:   logger,
		targets:  targets,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (s *CooldownSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *CooldownSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *CooldownSweeper) runOnce() int {
	total := 0
	for name, p := range s.targets {
		n := p.Prune()
		if n > 0 {
			s.logger.Debug("cooldown_sweeper.pruned", zap.String("command", name), zap.Int("entries", n))
		}
		total += n
	}
	return total
}
