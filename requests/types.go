package requests

import (
	"time"

	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/workflow"
)

// Request is a single allowance (special-duty pay) request moving through
// the review pipeline.
type Request struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	EmployeeID string          `json:"employeeId"`
	Department string          `json:"department"`
	Status     workflow.Status `json:"status"`

	// Classification assigned on submission; both empty until a rule
	// matches the employee's facts.
	AllowanceGroup string `json:"allowanceGroup,omitempty"`
	Tier           string `json:"tier,omitempty"`

	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ref adapts the request to the shape visibility checks consume.
func (r *Request) Ref() *workflow.RequestRef {
	return &workflow.RequestRef{
		EmployeeID: r.EmployeeID,
		Department: r.Department,
		Status:     r.Status,
	}
}

// AuditEntry is one immutable record of a status transition.
type AuditEntry struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"requestId"`
	ActorID    string          `json:"actorId"`
	ActorRole  workflow.Role   `json:"actorRole"`
	FromStatus workflow.Status `json:"fromStatus"`
	ToStatus   workflow.Status `json:"toStatus"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}
