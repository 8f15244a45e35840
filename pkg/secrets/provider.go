package secrets

import "context"

// Provider defines a generic secrets manager interface.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its JSON object as a
	// flat key-value map.
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// StaticProvider serves secrets from memory. It backs local development and
// tests where no secrets manager is reachable.
type StaticProvider map[string]map[string]string

// GetSecret implements Provider.
func (p StaticProvider) GetSecret(_ context.Context, name string) (map[string]string, error) {
	s, ok := p[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// NotFoundError is returned when a named secret does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return "secret [" + e.Name + "] not found"
}
