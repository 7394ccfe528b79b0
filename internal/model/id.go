package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string. Every execution attempt of a task and every
// journal session gets one.
func NewID() string {
	return ulid.Make().String()
}
