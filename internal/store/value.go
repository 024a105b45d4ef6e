// Package store implements the per-peer replicated key-value map described
// in the coordination plane: an in-memory map keyed by string, with prefix
// enumeration and change notification, whose mutations are disseminated by
// the gossip layer (internal/gossip).
package store

import "encoding/json"

// Kind tags which variant a Value holds. The key's prefix determines the
// tag: resource:* is KindResource, assign:* is KindAssignment, and
// private:status is KindStatus. Raw election keys carry small scalar
// values and are not modeled as a Value at all (see internal/election).
type Kind string

const (
	KindResource   Kind = "resource"
	KindAssignment Kind = "assignment"
	KindStatus     Kind = "status"
)

// ResourceState is the state field of a resource:<rid> entry.
type ResourceState string

const (
	StatePleaseAssign      ResourceState = "please-assign"
	StatePleaseDoNotAssign ResourceState = "please-do-not-assign"
)

// Resource is the value of a resource:<rid> key.
type Resource struct {
	Timestamp float64       `json:"timestamp"`
	State     ResourceState `json:"state"`
	Address   string        `json:"address"`
}

// Assignment is the value of an assign:<rid> key. A nil Peer means the
// assignment was cleared (tombstoned).
type Assignment struct {
	Peer *string `json:"peer"`
}

// Status is the value of the private:status key.
type Status struct {
	Up bool `json:"up"`
}

// Value is a tagged union over the three value shapes the store carries.
// Exactly one of Resource/Assignment/Status is meaningful, selected by Kind.
// A Deleted entry represents a tombstone (the Python original's None).
type Value struct {
	Kind       Kind
	Deleted    bool
	Resource   Resource
	Assignment Assignment
	Status     Status
}

// wireValue is the JSON-serializable form used for gossip transmission and
// for the SQLite backing file; it round-trips through MarshalJSON/UnmarshalJSON
// without the caller needing to know the Kind ahead of time.
type wireValue struct {
	Kind       Kind        `json:"kind"`
	Deleted    bool        `json:"deleted,omitempty"`
	Resource   *Resource   `json:"resource,omitempty"`
	Assignment *Assignment `json:"assignment,omitempty"`
	Status     *Status     `json:"status,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.Kind, Deleted: v.Deleted}
	switch v.Kind {
	case KindResource:
		w.Resource = &v.Resource
	case KindAssignment:
		w.Assignment = &v.Assignment
	case KindStatus:
		w.Status = &v.Status
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.Kind = w.Kind
	v.Deleted = w.Deleted
	if w.Resource != nil {
		v.Resource = *w.Resource
	}
	if w.Assignment != nil {
		v.Assignment = *w.Assignment
	}
	if w.Status != nil {
		v.Status = *w.Status
	}
	return nil
}

// NewResourceValue builds a live (non-deleted) resource entry.
func NewResourceValue(ts float64, state ResourceState, address string) Value {
	return Value{Kind: KindResource, Resource: Resource{Timestamp: ts, State: state, Address: address}}
}

// DeletedValue builds a tombstone of the given kind.
func DeletedValue(kind Kind) Value {
	return Value{Kind: kind, Deleted: true}
}

// NewAssignmentValue builds an assign:<rid> entry naming peer, or a cleared
// one when peer is empty.
func NewAssignmentValue(peer string) Value {
	if peer == "" {
		return Value{Kind: KindAssignment, Assignment: Assignment{Peer: nil}}
	}
	return Value{Kind: KindAssignment, Assignment: Assignment{Peer: &peer}}
}

// NewStatusValue builds a private:status entry.
func NewStatusValue(up bool) Value {
	return Value{Kind: KindStatus, Status: Status{Up: up}}
}
