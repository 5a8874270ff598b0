package requests

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/allowance"
	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/workflow"
)

// ErrForbidden is returned when the actor may not see or act on a request.
// The HTTP layer maps it to 403.
var ErrForbidden = errors.New("forbidden")

// ErrIllegalTransition is returned when the requested status change is not
// permitted for the actor's role.
var ErrIllegalTransition = errors.New("illegal status transition")

// Classifier produces an allowance classification for an employee's facts.
// Implemented by the tenant engine manager. A nil outcome means no rule
// matched.
type Classifier interface {
	Classify(tenantID string, subject allowance.Subject) (*allowance.Outcome, error)
}

// Service owns request mutations. Every mutation is authorized through the
// workflow engine before it touches the store, and every successful
// transition leaves an audit entry.
type Service struct {
	store      Store
	classifier Classifier
}

// NewService creates a request service. classifier may be nil when
// classification on submit is not wanted (tests, offline tooling).
func NewService(store Store, classifier Classifier) *Service {
	return &Service{
		store:      store,
		classifier: classifier,
	}
}

// Create opens a new draft request. Employees open drafts for themselves;
// admins may open one for any employee.
func (s *Service) Create(actor *workflow.Actor, req *Request) (*Request, error) {
	if actor == nil || req == nil {
		return nil, ErrForbidden
	}

	switch actor.Role {
	case workflow.RoleEmployee:
		if req.EmployeeID != "" && req.EmployeeID != actor.ID {
			return nil, fmt.Errorf("%w: employees may only open their own requests", ErrForbidden)
		}
		req.EmployeeID = actor.ID
		if req.Department == "" {
			req.Department = actor.Department
		}
	case workflow.RoleAdmin:
		if req.EmployeeID == "" {
			return nil, fmt.Errorf("employeeId is required")
		}
	default:
		return nil, fmt.Errorf("%w: role %s may not open requests", ErrForbidden, actor.Role)
	}

	if req.TenantID == "" {
		return nil, fmt.Errorf("tenantId is required")
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = workflow.StatusDraft

	if err := s.store.Create(req); err != nil {
		return nil, err
	}

	return req, nil
}

// Get returns a request the actor is allowed to see.
func (s *Service) Get(actor *workflow.Actor, id string) (*Request, error) {
	req, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	if !workflow.CanViewRequest(actor, req.Ref()) {
		return nil, ErrForbidden
	}

	return req, nil
}

// List returns the tenant's requests filtered to what the actor may see.
// Visibility is evaluated per request on every call, never cached, so a
// status change is reflected immediately.
func (s *Service) List(actor *workflow.Actor, tenantID string) ([]*Request, error) {
	all, err := s.store.ListByTenant(tenantID)
	if err != nil {
		return nil, err
	}

	visible := make([]*Request, 0, len(all))
	for _, req := range all {
		if workflow.CanViewRequest(actor, req.Ref()) {
			visible = append(visible, req)
		}
	}
	return visible, nil
}

// Audit returns a request's transition history, visibility-checked like the
// request itself.
func (s *Service) Audit(actor *workflow.Actor, requestID string) ([]*AuditEntry, error) {
	req, err := s.store.Get(requestID)
	if err != nil {
		return nil, err
	}
	if !workflow.CanViewRequest(actor, req.Ref()) {
		return nil, ErrForbidden
	}

	return s.store.ListAudit(requestID)
}

// Transition moves a request to the next status on behalf of the actor.
// The check order is visibility, then ownership/department scope, then
// structural transition legality; the first failure wins and nothing is
// written. On submission the request is classified against the tenant's
// active rules using the supplied subject facts.
func (s *Service) Transition(actor *workflow.Actor, requestID string, next workflow.Status, note string, subject allowance.Subject) (*Request, error) {
	if actor == nil {
		return nil, ErrForbidden
	}

	req, err := s.store.Get(requestID)
	if err != nil {
		return nil, err
	}

	if !workflow.CanViewRequest(actor, req.Ref()) {
		return nil, ErrForbidden
	}
	if err := checkScope(actor, req); err != nil {
		return nil, err
	}
	if !workflow.CanTransition(actor.Role, req.Status, next) {
		return nil, fmt.Errorf("%w: %s may not move %s to %s",
			ErrIllegalTransition, actor.Role, req.Status, next)
	}

	current := req.Status
	var classified *Request
	if next == workflow.StatusSubmitted && s.classifier != nil && subject != nil {
		outcome, err := s.classifier.Classify(req.TenantID, subject)
		if err != nil {
			return nil, fmt.Errorf("classification failed: %w", err)
		}
		classified = req
		if outcome != nil {
			classified.AllowanceGroup = outcome.AllowanceGroup
			classified.Tier = outcome.Tier
		} else {
			// No matching rule: clear any stale classification.
			classified.AllowanceGroup = ""
			classified.Tier = ""
		}
	}

	entry := &AuditEntry{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		FromStatus: current,
		ToStatus:   next,
		Note:       note,
	}
	if err := s.store.ApplyTransition(requestID, current, next, classified, entry); err != nil {
		return nil, err
	}

	return s.store.Get(requestID)
}

// checkScope layers the ownership and department checks the transition
// table deliberately leaves to the caller: employees act only on their own
// requests, supervisors only within their department.
func checkScope(actor *workflow.Actor, req *Request) error {
	switch actor.Role {
	case workflow.RoleEmployee:
		if actor.ID != req.EmployeeID {
			return fmt.Errorf("%w: employees may only act on their own requests", ErrForbidden)
		}
	case workflow.RoleSupervisor:
		if actor.Department != req.Department {
			return fmt.Errorf("%w: supervisors may only act within their department", ErrForbidden)
		}
	}
	return nil
}
