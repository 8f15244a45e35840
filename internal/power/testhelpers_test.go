package power

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/panel"
	"github.com/Checker-Finance/panelbot/internal/report"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

// memStore is an in-memory credential store.
type memStore struct {
	mu      sync.Mutex
	records map[string]*model.CredentialRecord
	findFn  func(userID string) (*model.CredentialRecord, error)
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*model.CredentialRecord)}
}

func (m *memStore) FindCredential(_ context.Context, userID string) (*model.CredentialRecord, error) {
	if m.findFn != nil {
		return m.findFn(userID)
	}
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

// recordingReporter captures reported failures.
type recordingReporter struct {
	mu       sync.Mutex
	failures []report.Failure
}

func (r *recordingReporter) Report(_ context.Context, f report.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

// fakePanel is an httptest panel counting every request it receives.
type fakePanel struct {
	srv   *httptest.Server
	calls atomic.Int32
}

func newFakePanel(t *testing.T, h http.HandlerFunc) *fakePanel {
	t.Helper()
	fp := &fakePanel{}
	fp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakePanel) client() *panel.Client {
	return panel.NewClient(zap.NewNop(), nil, fp.srv.Client(), "core", "panelbot-test")
}

func (fp *fakePanel) target() Panel {
	return Panel{
		Target:  panel.Target{Name: "core", Host: "unused", Field: model.FieldCorePanelKey},
		BaseURL: fp.srv.URL,
	}
}
