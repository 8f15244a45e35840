package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/pkg/eventbus"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

// mockJetStream records published messages.
type mockJetStream struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.msgs = append(m.msgs, msg)
	return &nats.PubAck{Stream: "PANELBOT_EVENTS"}, nil
}

func (m *mockJetStream) published() []*nats.Msg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*nats.Msg(nil), m.msgs...)
}

func newTestPublisher(js msgPublisher) *Publisher {
	return &Publisher{js: js, service: "panelbot", logger: zap.NewNop(), timeout: time.Second}
}

func TestPublishEnvelope_Headers(t *testing.T) {
	js := &mockJetStream{}
	p := newTestPublisher(js)

	env, err := model.NewEnvelope(SubjectPowerAction, model.EventPowerActionDispatched, "42",
		model.PowerActionDispatched{UserID: "42", Action: "start"})
	require.NoError(t, err)

	require.NoError(t, p.PublishEnvelope(context.Background(), SubjectPowerAction, env))

	msgs := js.published()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, SubjectPowerAction, msg.Subject)
	assert.Equal(t, model.EventPowerActionDispatched, msg.Header.Get("event_type"))
	assert.Equal(t, env.CorrelationID.String(), msg.Header.Get("correlation_id"))
	assert.Equal(t, "panelbot", msg.Header.Get("service"))
	assert.Equal(t, "42", msg.Header.Get("user_id"))

	var decoded model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, env.ID, decoded.ID)
}

func TestPublishEnvelope_Error(t *testing.T) {
	js := &mockJetStream{err: errors.New("nats: no responders")}
	p := newTestPublisher(js)

	env, _ := model.NewEnvelope(SubjectCommandFailed, model.EventCommandFailed, "42", model.CommandFailed{})
	assert.Error(t, p.PublishEnvelope(context.Background(), SubjectCommandFailed, env))
}

func TestAttach_ForwardsBusEvents(t *testing.T) {
	js := &mockJetStream{}
	p := newTestPublisher(js)
	bus := eventbus.New()
	p.Attach(bus)

	bus.Publish(model.PowerActionDispatched{UserID: "42", Action: "restart", Outcome: "success"})
	bus.Publish(&model.CommandFailed{UserID: "43", Kind: "remote_error"})
	bus.Wait()

	msgs := js.published()
	require.Len(t, msgs, 2)

	subjects := map[string]string{}
	for _, m := range msgs {
		subjects[m.Subject] = m.Header.Get("user_id")
	}
	assert.Equal(t, "42", subjects[SubjectPowerAction])
	assert.Equal(t, "43", subjects[SubjectCommandFailed])
}

func TestConnected_NilConn(t *testing.T) {
	p := newTestPublisher(&mockJetStream{})
	assert.False(t, p.Connected())
	assert.NotPanics(t, p.Close)
}
