package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/pkg/eventbus"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

// DBExecutor is the subset of pgxpool.Pool the writer needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ActionLogWriter writes dispatched power actions into bot.power_action_log.
type ActionLogWriter struct {
	db      DBExecutor
	logger  *zap.Logger
	source  string
	timeout time.Duration
}

// NewActionLogWriter constructs a writer for the power action log.
// source identifies the process writing the record (e.g. "panelbot").
func NewActionLogWriter(db DBExecutor, logger *zap.Logger, source string) *ActionLogWriter {
	return &ActionLogWriter{
		db:      db,
		logger:  logger,
		source:  source,
		timeout: 5 * time.Second,
	}
}

const insertQuery = `
	INSERT INTO bot.power_action_log (
		user_id,
		panel,
		server_id,
		action,
		outcome,
		status_code,
		error,
		source,
		dispatched_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Record inserts one log row. A nil event is a no-op.
func (w *ActionLogWriter) Record(ctx context.Context, evt *model.PowerActionDispatched) error {
	if evt == nil {
		return nil
	}

	var status *int
	if evt.StatusCode != 0 {
		status = &evt.StatusCode
	}
	var errText *string
	if evt.Error != "" {
		errText = &evt.Error
	}

	_, err := w.db.Exec(ctx, insertQuery,
		evt.UserID,
		evt.Panel,
		evt.ServerID,
		evt.Action,
		evt.Outcome,
		status,  // NULL when no response arrived
		errText, // NULL on success
		w.source,
		evt.At,
	)
	if err != nil {
		w.logger.Error("audit.record_failed",
			zap.String("user_id", evt.UserID),
			zap.String("panel", evt.Panel),
			zap.String("server_id", evt.ServerID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Debug("audit.recorded",
		zap.String("user_id", evt.UserID),
		zap.String("panel", evt.Panel),
		zap.String("action", evt.Action),
		zap.String("outcome", evt.Outcome),
	)
	return nil
}

// Attach records every PowerActionDispatched published on bus.
func (w *ActionLogWriter) Attach(bus *eventbus.EventBus) {
	bus.Subscribe(model.PowerActionDispatched{}, func(event any) {
		evt, ok := event.(model.PowerActionDispatched)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		_ = w.Record(ctx, &evt)
	})
}
