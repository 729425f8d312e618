// Package applications implements the application lifecycle: apply against the
// credit ledger, status transitions with history, and admin guidance.
package applications

import (
	"fmt"
	"strings"

	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

// Status is an application status.
type Status string

const (
	Applied      Status = database.StatusApplied
	Interviewing Status = database.StatusInterviewing
	Accepted     Status = database.StatusAccepted
	Rejected     Status = database.StatusRejected
	Withdrawn    Status = database.StatusWithdrawn
)

var statuses = []Status{Applied, Interviewing, Accepted, Rejected, Withdrawn}

// ParseStatus requires an exact match of one of the five statuses.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return "", errcode.Validation("applications.ParseStatus",
		fmt.Sprintf("invalid status %q, expected one of %s", s, strings.Join(names, ", ")))
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID       uint
	Username string
	IsAdmin  bool
}

// CanSee reports whether the actor may read an application owned by ownerID.
func (a Actor) CanSee(ownerID uint) bool {
	return a.IsAdmin || a.ID == ownerID
}
