package power

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/panelbot/pkg/model"
)

type listedServer struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

func listHandler(servers []listedServer) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		data := make([]map[string]any, 0, len(servers))
		for _, s := range servers {
			data = append(data, map[string]any{"object": "server", "attributes": s})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}
}

func storeWithKey(t *testing.T) *memStore {
	t.Helper()
	s := newMemStore()
	require.NoError(t, s.SetCredential(context.Background(), "42", model.FieldCorePanelKey, "k"))
	return s
}

func TestSuggest_MissingCredential_NoNetworkCall(t *testing.T) {
	fp := newFakePanel(t, listHandler([]listedServer{{"Alpha", "a1"}}))

	got := NewSuggester(fp.target(), newMemStore(), fp.client()).Suggest(context.Background(), "42", "")
	assert.Empty(t, got)
	assert.Zero(t, fp.calls.Load())
}

func TestSuggest_CaseInsensitiveSubstring(t *testing.T) {
	fp := newFakePanel(t, listHandler([]listedServer{{"Alpha", "a1"}, {"beta", "b2"}}))

	got := NewSuggester(fp.target(), storeWithKey(t), fp.client()).Suggest(context.Background(), "42", "AL")
	assert.Equal(t, []Choice{{Label: "Alpha (a1)", Value: "a1"}}, got)
	assert.EqualValues(t, 1, fp.calls.Load())
}

func TestSuggest_MatchesIdentifierInLabel(t *testing.T) {
	fp := newFakePanel(t, listHandler([]listedServer{{"Alpha", "a1"}, {"beta", "b2"}}))

	got := NewSuggester(fp.target(), storeWithKey(t), fp.client()).Suggest(context.Background(), "42", "(B2")
	assert.Equal(t, []Choice{{Label: "beta (b2)", Value: "b2"}}, got)
}

func TestSuggest_CapsAt25InOriginalOrder(t *testing.T) {
	servers := make([]listedServer, 30)
	for i := range servers {
		servers[i] = listedServer{Name: fmt.Sprintf("srv-%02d", 29-i), Identifier: fmt.Sprintf("id%02d", i)}
	}
	fp := newFakePanel(t, listHandler(servers))

	got := NewSuggester(fp.target(), storeWithKey(t), fp.client()).Suggest(context.Background(), "42", "")
	require.Len(t, got, MaxChoices)
	for i, c := range got {
		assert.Equal(t, servers[i].Identifier, c.Value)
	}
}

func TestSuggest_NoCachingBetweenCalls(t *testing.T) {
	fp := newFakePanel(t, listHandler([]listedServer{{"Alpha", "a1"}}))
	s := NewSuggester(fp.target(), storeWithKey(t), fp.client())

	s.Suggest(context.Background(), "42", "a")
	s.Suggest(context.Background(), "42", "al")
	assert.EqualValues(t, 2, fp.calls.Load())
}

func TestSuggest_FailuresAreSwallowed(t *testing.T) {
	fp := newFakePanel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	got := NewSuggester(fp.target(), storeWithKey(t), fp.client()).Suggest(context.Background(), "42", "")
	assert.Empty(t, got)
	assert.EqualValues(t, 1, fp.calls.Load())

	store := newMemStore()
	store.findFn = func(string) (*model.CredentialRecord, error) { return nil, errors.New("boom") }
	assert.Empty(t, NewSuggester(fp.target(), store, fp.client()).Suggest(context.Background(), "42", ""))

	store.findFn = func(string) (*model.CredentialRecord, error) { panic("boom") }
	assert.NotPanics(t, func() {
		assert.Empty(t, NewSuggester(fp.target(), store, fp.client()).Suggest(context.Background(), "42", ""))
	})
}

func TestSuggest_NoList(t *testing.T) {
	fp := newFakePanel(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list"}`))
	})
	got := NewSuggester(fp.target(), storeWithKey(t), fp.client()).Suggest(context.Background(), "42", "")
	assert.Empty(t, got)
}
