// Package workflow decides what an actor may do to an allowance request:
// which status transitions their role permits and which requests they may
// see. Both decisions are pure lookups over static tables; every unknown
// role, status, or missing input resolves to a denial.
package workflow

import "fmt"

// Status is a request's position in the review pipeline.
type Status string

const (
	StatusDraft                Status = "draft"
	StatusSubmitted            Status = "submitted"
	StatusApprovedBySupervisor Status = "approved_by_supervisor"
	StatusRejectedBySupervisor Status = "rejected_by_supervisor"
	StatusApprovedByHR         Status = "approved_by_hr"
	StatusRejectedByHR         Status = "rejected_by_hr"
	StatusProcessed            Status = "processed"
	StatusRejectedByFinance    Status = "rejected_by_finance"
	StatusArchived             Status = "archived"
)

// statuses is the closed set of workflow states.
var statuses = map[Status]bool{
	StatusDraft:                true,
	StatusSubmitted:            true,
	StatusApprovedBySupervisor: true,
	StatusRejectedBySupervisor: true,
	StatusApprovedByHR:         true,
	StatusRejectedByHR:         true,
	StatusProcessed:            true,
	StatusRejectedByFinance:    true,
	StatusArchived:             true,
}

// legacyStatuses maps the simplified vocabulary still emitted by older
// clients onto the canonical one. The legacy "rejected" has no unambiguous
// counterpart (it collapsed three distinct rejection states) and is not
// accepted.
var legacyStatuses = map[string]Status{
	"approved":   StatusApprovedBySupervisor,
	"hr-checked": StatusApprovedByHR,
	"disbursed":  StatusProcessed,
}

// Known reports whether s is a canonical workflow status.
func (s Status) Known() bool {
	return statuses[s]
}

// ParseStatus normalizes a status string to the canonical vocabulary,
// accepting legacy aliases. Unknown strings return an error and the zero
// Status.
func ParseStatus(raw string) (Status, error) {
	if s := Status(raw); s.Known() {
		return s, nil
	}
	if s, ok := legacyStatuses[raw]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown request status: %q", raw)
}

// Role is an actor's position in the organization.
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleSupervisor Role = "supervisor"
	RoleHR         Role = "hr"
	RoleFinance    Role = "finance"
	RoleAdmin      Role = "admin"
)

var roles = map[Role]bool{
	RoleEmployee:   true,
	RoleSupervisor: true,
	RoleHR:         true,
	RoleFinance:    true,
	RoleAdmin:      true,
}

// Known reports whether r is a recognized role.
func (r Role) Known() bool {
	return roles[r]
}

// ParseRole validates a role string. Unknown strings return an error and
// the zero Role.
func ParseRole(raw string) (Role, error) {
	if r := Role(raw); r.Known() {
		return r, nil
	}
	return "", fmt.Errorf("unknown role: %q", raw)
}
