package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/metrics"
)

// DBExecutor defines minimal subset of pgxpool.Pool needed for execution.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CredentialPruner periodically deletes credential rows with no key left.
// A missing row reads the same as an empty one, so pruning is invisible to users.
type CredentialPruner struct {
	logger   *zap.Logger
	db       DBExecutor
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCredentialPruner constructs a background job that runs every interval.
func NewCredentialPruner(logger *zap.Logger, db DBExecutor, interval time.Duration) *CredentialPruner {
	return &CredentialPruner{
		logger:   logger,
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the prune loop until Stop or ctx is done.
func (p *CredentialPruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("credential_pruner.started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-p.stopCh:
			p.logger.Info("credential_pruner.stopped (manual stop)")
			return
		case <-ctx.Done():
			p.logger.Info("credential_pruner.stopped (context canceled)")
			return
		}
	}
}

// Stop halts the pruner. Safe to call more than once.
func (p *CredentialPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// runOnce executes one prune cycle and returns the number of rows deleted.
func (p *CredentialPruner) runOnce(ctx context.Context) int64 {
	start := time.Now()

	tag, err := p.db.Exec(ctx, `
		DELETE FROM bot.panel_credentials
		WHERE core_panel_key IS NULL AND public_panel_key IS NULL;
	`)
	if err != nil {
		p.logger.Error("credential_pruner.prune_failed", zap.Error(err))
		return 0
	}

	n := tag.RowsAffected()
	metrics.CredentialsPruned.Add(float64(n))
	p.logger.Info("credential_pruner.success",
		zap.Int64("deleted", n),
		zap.Duration("duration", time.Since(start)))
	return n
}
