package idgen

import "github.com/google/uuid"

// New returns a UUIDv7 identifier string, falling back to a random
// UUIDv4 if v7 generation fails. Run and entry ids use this so rows
// sort roughly by creation time.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SessionKey returns an opaque key tying a run to its executor session.
func SessionKey() string {
	return "sess-" + New()
}
