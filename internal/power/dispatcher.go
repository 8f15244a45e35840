package power

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/panel"
	"github.com/Checker-Finance/panelbot/internal/report"
	"github.com/Checker-Finance/panelbot/pkg/eventbus"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

// CredentialFinder looks up a user's stored panel keys.
type CredentialFinder interface {
	FindCredential(ctx context.Context, userID string) (*model.CredentialRecord, error)
}

// PowerSender sends one power signal to a panel.
type PowerSender interface {
	SendPowerSignal(ctx context.Context, creds panel.Credentials, serverID, signal string) (int, error)
}

// Panel binds a configured target to its base URL.
type Panel struct {
	panel.Target
	BaseURL string
}

// Dispatcher forwards power actions for one panel, gated on the user's stored key.
type Dispatcher struct {
	logger   *zap.Logger
	panel    Panel
	store    CredentialFinder
	client   PowerSender
	reporter report.Reporter
	bus      *eventbus.EventBus
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher. reporter and bus may be nil.
func NewDispatcher(
	logger *zap.Logger,
	p Panel,
	store CredentialFinder,
	client PowerSender,
	reporter report.Reporter,
	bus *eventbus.EventBus,
) *Dispatcher {
	if reporter == nil {
		reporter = report.Nop{}
	}
	return &Dispatcher{
		logger:   logger,
		panel:    p,
		store:    store,
		client:   client,
		reporter: reporter,
		bus:      bus,
		now:      time.Now,
	}
}

// Panel returns the panel this dispatcher targets.
func (d *Dispatcher) Panel() Panel { return d.panel }

// Dispatch sends action to resourceID using the user's key for this panel.
// It makes at most one network call and never retries. resourceID is passed
// to the panel as given.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, action Action, resourceID string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = UnexpectedError(fmt.Errorf("panic during dispatch: %v", r))
			d.report(ctx, userID, action, resourceID, out)
		}
	}()

	if !action.Valid() {
		out = UnexpectedError(fmt.Errorf("%w: %s", ErrUnknownAction, action))
		d.report(ctx, userID, action, resourceID, out)
		return out
	}

	rec, err := d.store.FindCredential(ctx, userID)
	if err != nil {
		out = UnexpectedError(fmt.Errorf("find credential: %w", err))
		d.report(ctx, userID, action, resourceID, out)
		return out
	}

	key, ok := rec.Key(d.panel.Field)
	if !ok {
		d.logger.Debug("power.missing_credential",
			zap.String("user_id", userID),
			zap.String("panel", d.panel.Name))
		return MissingCredential()
	}

	status, err := d.client.SendPowerSignal(ctx,
		panel.Credentials{BaseURL: d.panel.BaseURL, APIKey: key}, resourceID, action.String())
	if err != nil {
		out = RemoteError(status, err)
		d.report(ctx, userID, action, resourceID, out)
	} else {
		out = Success(status)
		d.logger.Info("power.dispatched",
			zap.String("user_id", userID),
			zap.String("panel", d.panel.Name),
			zap.String("server_id", resourceID),
			zap.String("action", action.String()),
			zap.Int("status", status))
	}
	d.publish(userID, action, resourceID, out)
	return out
}

func (d *Dispatcher) report(ctx context.Context, userID string, action Action, resourceID string, out Outcome) {
	kind, ok := out.reportKind()
	if !ok {
		return
	}
	d.reporter.Report(ctx, report.Failure{
		UserID:   userID,
		Command:  d.panel.Name + "-panel",
		Panel:    d.panel.Name,
		ServerID: resourceID,
		Action:   action.String(),
		Kind:     kind,
		Err:      out.Err,
	})
}

func (d *Dispatcher) publish(userID string, action Action, resourceID string, out Outcome) {
	if d.bus == nil {
		return
	}
	evt := model.PowerActionDispatched{
		UserID:     userID,
		Panel:      d.panel.Name,
		ServerID:   resourceID,
		Action:     action.String(),
		Outcome:    out.Kind.String(),
		StatusCode: out.StatusCode,
		At:         d.now().UTC(),
	}
	if out.Err != nil {
		evt.Error = out.Err.Error()
	}
	d.bus.Publish(evt)
}
