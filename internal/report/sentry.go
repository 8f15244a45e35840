package report

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryReporter captures failures on its own hub, one scope per failure.
type SentryReporter struct {
	hub *sentry.Hub
}

// SentryOptions configure NewSentryReporter. SampleRate is the share of
// error events sent, in [0, 1].
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// NewSentryReporter builds a client for opts. An empty DSN or a zero sample
// rate yields a client that drops every event.
func NewSentryReporter(opts SentryOptions) (*SentryReporter, error) {
	dsn := opts.DSN
	// sentry-go reads a zero SampleRate as "send everything"
	if opts.SampleRate <= 0 {
		dsn = ""
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      opts.Environment,
		Release:          opts.Release,
		SampleRate:       min(opts.SampleRate, 1),
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, err
	}
	return NewSentryReporterWithClient(client), nil
}

// NewSentryReporterWithClient wraps an existing client.
func NewSentryReporterWithClient(client *sentry.Client) *SentryReporter {
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}
}

func (r *SentryReporter) Report(_ context.Context, f Failure) {
	err := f.Err
	if err == nil {
		err = errors.New(string(f.Kind))
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: f.UserID})
		scope.SetTag("kind", string(f.Kind))
		scope.SetTag("command", f.Command)
		scope.SetTag("panel", f.Panel)
		scope.SetTag("action", f.Action)
		scope.SetContext("command", sentry.Context{
			"server_id": f.ServerID,
		})
		if f.Kind == KindRemote {
			scope.SetLevel(sentry.LevelWarning)
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for queued events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
