// Package ident allocates opaque connection identifiers.
//
// Identifiers are UUIDv4 strings: 122 bits of randomness makes a collision
// against the live registry unreachable in practice, so no registry check
// is performed. uuid.New panics if the platform entropy source fails, which
// is the documented fatal behaviour for this process.
package ident

import "github.com/google/uuid"

// New returns a fresh connection identifier.
func New() string {
	return uuid.New().String()
}
