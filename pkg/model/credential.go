package model

import "time"

// CredentialField names one of the keys stored on a CredentialRecord. The
// value doubles as the storage column name.
type CredentialField string

const (
	FieldCorePanelKey   CredentialField = "core_panel_key"
	FieldPublicPanelKey CredentialField = "public_panel_key"
)

// CredentialFields lists every known field in storage order.
var CredentialFields = []CredentialField{FieldCorePanelKey, FieldPublicPanelKey}

// Valid reports whether f is a known field.
func (f CredentialField) Valid() bool {
	switch f {
	case FieldCorePanelKey, FieldPublicPanelKey:
		return true
	}
	return false
}

// CredentialRecord is the per-user record of panel API keys. A nil key means
// the credential is unset; a missing record is equivalent to all keys unset.
type CredentialRecord struct {
	UserID         string    `json:"user_id"`
	CorePanelKey   *string   `json:"core_panel_key,omitempty"`
	PublicPanelKey *string   `json:"public_panel_key,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Empty reports whether no credential is set on the record.
func (r *CredentialRecord) Empty() bool {
	return r == nil || (r.CorePanelKey == nil && r.PublicPanelKey == nil)
}

// Key returns the key stored in field. Empty strings count as unset.
func (r *CredentialRecord) Key(field CredentialField) (string, bool) {
	if r == nil {
		return "", false
	}
	var v *string
	switch field {
	case FieldCorePanelKey:
		v = r.CorePanelKey
	case FieldPublicPanelKey:
		v = r.PublicPanelKey
	}
	if v == nil || *v == "" {
		return "", false
	}
	return *v, true
}

// SetKey stores key in field; a nil key clears it. Unknown fields are ignored.
func (r *CredentialRecord) SetKey(field CredentialField, key *string) {
	switch field {
	case FieldCorePanelKey:
		r.CorePanelKey = key
	case FieldPublicPanelKey:
		r.PublicPanelKey = key
	}
}
