package store

import "github.com/clearline-ai/clearline/errs"

// EntityStatus is the administrative lifecycle shared by tenant-scoped
// configuration entities (policy definitions, knowledge bases, personas).
type EntityStatus string

const (
	StatusPending  EntityStatus = "pending"
	StatusActive   EntityStatus = "active"
	StatusDisabled EntityStatus = "disabled"
	StatusDeleted  EntityStatus = "deleted"
)

// statusTransitions enumerates the legal edges. Pending entities must be
// activated before any other move, and deletion is final.
var statusTransitions = map[EntityStatus][]EntityStatus{
	StatusPending:  {StatusActive},
	StatusActive:   {StatusDisabled, StatusDeleted},
	StatusDisabled: {StatusActive, StatusDeleted},
	StatusDeleted:  {},
}

// ValidateTransition reports whether moving from to next is legal, returning
// a validation error naming both states when it is not.
func ValidateTransition(from, next EntityStatus) error {
	if from == next {
		return nil
	}
	for _, allowed := range statusTransitions[from] {
		if allowed == next {
			return nil
		}
	}
	return errs.Newf(errs.KindValidation, "illegal status transition %s -> %s", from, next)
}
