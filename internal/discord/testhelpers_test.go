package discord

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/app"
	"github.com/Checker-Finance/panelbot/internal/report"
	"github.com/Checker-Finance/panelbot/pkg/config"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

// fakeSession records everything the bot sends to Discord.
type fakeSession struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	handlers  int
	opened    bool
	statuses  []discordgo.UpdateStatusData
	commands  map[string][]*discordgo.ApplicationCommand
}

func newFakeSession() *fakeSession {
	return &fakeSession{commands: make(map[string][]*discordgo.ApplicationCommand)}
}

func (f *fakeSession) Open() error  { f.opened = true; return nil }
func (f *fakeSession) Close() error { f.opened = false; return nil }

func (f *fakeSession) AddHandler(any) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers--
	}
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSession) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ApplicationCommandBulkOverwrite(_ string, guildID string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*discordgo.ApplicationCommand, len(cmds))
	for i, c := range cmds {
		cp := *c
		cp.ID = "id-" + c.Name
		out[i] = &cp
	}
	f.commands[guildID] = out
	return out, nil
}

func (f *fakeSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, data)
	return nil
}

func (f *fakeSession) lastResponse() *discordgo.InteractionResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return nil
	}
	return f.responses[len(f.responses)-1]
}

func (f *fakeSession) lastEdit() *discordgo.MessageEmbed {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 || f.edits[len(f.edits)-1].Embeds == nil {
		return nil
	}
	return (*f.edits[len(f.edits)-1].Embeds)[0]
}

// memStore is an in-memory credential store with optional hooks.
type memStore struct {
	mu      sync.Mutex
	records map[string]*model.CredentialRecord
	setFn   func() error
	clears  int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*model.CredentialRecord)}
}

func (m *memStore) FindCredential(_ context.Context, userID string) (*model.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) SetCredential(_ context.Context, userID string, field model.CredentialField, key string) error {
	if m.setFn != nil {
		if err := m.setFn(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		rec = &model.CredentialRecord{UserID: userID}
		m.records[userID] = rec
	}
	rec.SetKey(field, &key)
	return nil
}

func (m *memStore) ClearCredential(_ context.Context, userID string, field model.CredentialField) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	if rec, ok := m.records[userID]; ok {
		rec.SetKey(field, nil)
	}
	return nil
}

func (m *memStore) HealthCheck(context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }

type recordingReporter struct {
	mu       sync.Mutex
	failures []report.Failure
}

func (r *recordingReporter) Report(_ context.Context, f report.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *recordingReporter) all() []report.Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report.Failure(nil), r.failures...)
}

// harness wires a Bot to a fake session and an httptest panel.
type harness struct {
	bot      *Bot
	session  *fakeSession
	store    *memStore
	reporter *recordingReporter
	calls    *atomic.Int32
}

func newHarness(t *testing.T, h http.HandlerFunc, tweak func(*config.Config)) *harness {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		CorePanelHost:    u.Host,
		PanelScheme:      "http",
		PanelUserAgent:   "panelbot-test",
		PanelRPS:         100,
		PanelBurst:       100,
		PowerCooldown:    0,
		RegisterCommands: true,
	}
	if tweak != nil {
		tweak(cfg)
	}

	st := newMemStore()
	rep := &recordingReporter{}
	ac := app.New(cfg, zap.NewNop(), st, rep, nil, srv.Client())
	sess := newFakeSession()

	return &harness{
		bot:      New(ac, sess),
		session:  sess,
		store:    st,
		reporter: rep,
		calls:    calls,
	}
}

func (h *harness) setKey(userID, key string) {
	_ = h.store.SetCredential(context.Background(), userID, model.FieldCorePanelKey, key)
}

func commandInteraction(userID, name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:   discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{User: &discordgo.User{ID: userID}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name:    name,
			Options: opts,
		},
	}}
}

func powerInteraction(userID, command, action, server string) *discordgo.InteractionCreate {
	return commandInteraction(userID, command, &discordgo.ApplicationCommandInteractionDataOption{
		Name: action,
		Type: discordgo.ApplicationCommandOptionSubCommand,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			stringOpt(optionServer, server),
		},
	})
}

func autocompleteInteraction(userID, command, query string) *discordgo.InteractionCreate {
	focused := stringOpt(optionServer, query)
	focused.Focused = true
	ic := powerInteraction(userID, command, "restart", "")
	ic.Type = discordgo.InteractionApplicationCommandAutocomplete
	data := ic.ApplicationCommandData()
	data.Options[0].Options = []*discordgo.ApplicationCommandInteractionDataOption{focused}
	ic.Data = data
	return ic
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}
