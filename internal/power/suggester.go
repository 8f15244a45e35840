package power

import (
	"context"
	"strings"

	"github.com/Checker-Finance/panelbot/internal/panel"
)

// MaxChoices is the most autocomplete choices Discord accepts.
const MaxChoices = 25

// ServerLister lists the servers visible to a key.
type ServerLister interface {
	ListServers(ctx context.Context, creds panel.Credentials) ([]panel.Server, error)
}

// Choice is one autocomplete candidate.
type Choice struct {
	Label string
	Value string
}

// Suggester builds server autocomplete choices for one panel. Every failure
// degrades to no choices and is neither logged nor reported.
type Suggester struct {
	panel  Panel
	store  CredentialFinder
	client ServerLister
}

func NewSuggester(p Panel, store CredentialFinder, client ServerLister) *Suggester {
	return &Suggester{panel: p, store: store, client: client}
}

// Suggest fetches the user's servers and returns those whose label contains
// query, case-insensitively, in panel order, capped at MaxChoices.
func (s *Suggester) Suggest(ctx context.Context, userID, query string) (choices []Choice) {
	defer func() {
		if recover() != nil {
			choices = nil
		}
	}()

	rec, err := s.store.FindCredential(ctx, userID)
	if err != nil {
		return nil
	}
	key, ok := rec.Key(s.panel.Field)
	if !ok {
		return nil
	}

	servers, err := s.client.ListServers(ctx, panel.Credentials{BaseURL: s.panel.BaseURL, APIKey: key})
	if err != nil || len(servers) == 0 {
		return nil
	}
	return Filter(servers, query)
}

// Filter labels servers as "name (identifier)" and keeps those containing
// query, case-insensitively, without reordering.
func Filter(servers []panel.Server, query string) []Choice {
	needle := strings.ToLower(query)
	out := make([]Choice, 0, min(len(servers), MaxChoices))
	for _, srv := range servers {
		label := srv.Name + " (" + srv.Identifier + ")"
		if !strings.Contains(strings.ToLower(label), needle) {
			continue
		}
		out = append(out, Choice{Label: label, Value: srv.Identifier})
		if len(out) == MaxChoices {
			break
		}
	}
	return out
}
