// Package ids generates the opaque unique identifiers that key every
// entity in the data model.
package ids

import "github.com/google/uuid"

// New returns a fresh opaque identifier. Callers must not parse structure
// out of the returned string; it is an opaque key, not a UUID contract.
func New() string {
	return uuid.New().String()
}
