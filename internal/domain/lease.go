package domain

import (
	"encoding/json"
	"time"
)

// LeaseBody is the payload stored in the lease object. An empty Owner means
// the lease is currently unowned. Time is advisory: callers use it for
// TTL-style heuristics, the protocol itself never interprets it.
type LeaseBody struct {
	Owner string     `json:"owner"`
	Time  *time.Time `json:"time,omitempty"`
}

func (b LeaseBody) ToBytes() ([]byte, error) {
	return json.Marshal(b)
}

func LeaseBodyFromBytes(data []byte) (LeaseBody, error) {
	var b LeaseBody
	err := json.Unmarshal(data, &b)
	return b, err
}

// LeaseResource is a snapshot of a lease that was durable in the backend at
// the moment of the read or write that produced it: the body plus the opaque
// version token the backend assigned. Version tokens are compared only for
// equality and passed back verbatim as write preconditions.
type LeaseResource struct {
	Body    LeaseBody
	Version string
}

// UpdateResult is the two-variant outcome of a conditional lease update.
// When Won is true, Resource is the freshly written lease carrying the new
// version token. When Won is false, another writer got there first and
// Resource is the authoritative current lease as re-read from the backend.
type UpdateResult struct {
	Won      bool
	Resource LeaseResource
}
