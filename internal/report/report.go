package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/pkg/eventbus"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

// Kind classifies a reported failure.
type Kind string

const (
	KindRemote     Kind = "remote_error"
	KindUnexpected Kind = "unexpected_error"
)

// Failure carries what is needed to diagnose a failed command.
type Failure struct {
	UserID   string
	Command  string
	Panel    string
	ServerID string
	Action   string
	Kind     Kind
	Err      error
}

// Reporter receives failures from the command paths.
type Reporter interface {
	Report(ctx context.Context, f Failure)
}

// Nop drops every failure.
type Nop struct{}

func (Nop) Report(context.Context, Failure) {}

// Multi fans a failure out to every reporter in order.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, f Failure) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, f)
		}
	}
}

// LogReporter writes failures to zap.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(_ context.Context, f Failure) {
	fields := []zap.Field{
		zap.String("kind", string(f.Kind)),
		zap.String("user_id", f.UserID),
		zap.String("command", f.Command),
		zap.String("panel", f.Panel),
		zap.String("server_id", f.ServerID),
		zap.String("action", f.Action),
		zap.Error(f.Err),
	}
	if f.Kind == KindUnexpected {
		r.logger.Error("command.failed", fields...)
		return
	}
	r.logger.Warn("command.failed", fields...)
}

// BusReporter publishes failures as model.CommandFailed events.
type BusReporter struct {
	bus *eventbus.EventBus
	now func() time.Time
}

func NewBusReporter(bus *eventbus.EventBus) *BusReporter {
	return &BusReporter{bus: bus, now: time.Now}
}

func (r *BusReporter) Report(_ context.Context, f Failure) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(model.CommandFailed{
		UserID:   f.UserID,
		Command:  f.Command,
		Panel:    f.Panel,
		ServerID: f.ServerID,
		Action:   f.Action,
		Kind:     string(f.Kind),
		Error:    errString(f.Err),
		At:       r.now().UTC(),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
