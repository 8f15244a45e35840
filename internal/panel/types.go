package panel

import (
	"fmt"
	"strings"

	"github.com/Checker-Finance/panelbot/pkg/model"
)

// Credentials identify one panel and the user's API key for it.
type Credentials struct {
	BaseURL string
	APIKey  string
}

// Target is a configured panel: its display name, host and the record field
// holding the user's key for it.
type Target struct {
	Name  string
	Host  string
	Field model.CredentialField
}

// BaseURL builds the panel's base URL for scheme, e.g. https://panel.example.com.
func (t Target) BaseURL(scheme string) string {
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimSuffix(t.Host, "/")
}

// Server is one entry of the account's server listing.
type Server struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// listResponse is the GET /api/client envelope.
type listResponse struct {
	Object string       `json:"object"`
	Data   []serverItem `json:"data"`
}

type serverItem struct {
	Object     string `json:"object"`
	Attributes Server `json:"attributes"`
}

// powerRequest is the POST /api/client/servers/{id}/power body.
type powerRequest struct {
	Signal string `json:"signal"`
}

// errorResponse is the panel's error body.
type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Status string `json:"status"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Error is a non-2xx panel response.
type Error struct {
	Status int
	Code   string
	Detail string
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("panel returned %d: %s", e.Status, e.Detail)
	case e.Code != "":
		return fmt.Sprintf("panel returned %d: %s", e.Status, e.Code)
	default:
		return fmt.Sprintf("panel returned %d", e.Status)
	}
}
