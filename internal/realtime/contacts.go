package realtime

import "context"

// StaticContacts resolves support contacts from a fixed per-owner table with
// an optional default list, for deployments where contact data comes from
// configuration rather than an external directory.
type StaticContacts struct {
	ByOwner map[string][]string
	Default []string
}

// SupportContacts implements ContactResolver.
func (s StaticContacts) SupportContacts(_ context.Context, ownerID string) ([]string, error) {
	if contacts, ok := s.ByOwner[ownerID]; ok {
		return contacts, nil
	}
	return s.Default, nil
}
