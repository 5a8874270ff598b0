package requests

import (
	"errors"
	"testing"

	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/allowance"
	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/workflow"
)

// stubClassifier returns a fixed outcome (or error) for every subject.
type stubClassifier struct {
	outcome *allowance.Outcome
	err     error
	calls   int
}

func (c *stubClassifier) Classify(tenantID string, subject allowance.Subject) (*allowance.Outcome, error) {
	c.calls++
	return c.outcome, c.err
}

func employeeActor(id, dept string) *workflow.Actor {
	return &workflow.Actor{ID: id, Role: workflow.RoleEmployee, Department: dept}
}

func newDraft(t *testing.T, svc *Service, employeeID, dept string) *Request {
	t.Helper()
	req, err := svc.Create(employeeActor(employeeID, dept), &Request{
		TenantID:   "hospital-a",
		Department: dept,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return req
}

func TestCreateDraft(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)

	req := newDraft(t, svc, "u1", "ICU")
	if req.ID == "" {
		t.Error("Create should assign an ID")
	}
	if req.Status != workflow.StatusDraft {
		t.Errorf("new request status = %s, want draft", req.Status)
	}
	if req.EmployeeID != "u1" {
		t.Errorf("employee id = %s, want the actor's id", req.EmployeeID)
	}
}

func TestCreateAuthorization(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)

	_, err := svc.Create(employeeActor("u1", "ICU"), &Request{
		TenantID:   "hospital-a",
		EmployeeID: "u2",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("employee creating for someone else: err = %v, want ErrForbidden", err)
	}

	supervisor := &workflow.Actor{ID: "s1", Role: workflow.RoleSupervisor, Department: "ICU"}
	_, err = svc.Create(supervisor, &Request{TenantID: "hospital-a", EmployeeID: "u1"})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("supervisor creating a request: err = %v, want ErrForbidden", err)
	}

	admin := &workflow.Actor{ID: "a1", Role: workflow.RoleAdmin}
	req, err := svc.Create(admin, &Request{TenantID: "hospital-a", EmployeeID: "u9", Department: "ER"})
	if err != nil {
		t.Fatalf("admin create failed: %v", err)
	}
	if req.EmployeeID != "u9" {
		t.Errorf("admin-created request employee = %s, want u9", req.EmployeeID)
	}

	_, err = svc.Create(admin, &Request{TenantID: "hospital-a"})
	if err == nil {
		t.Error("admin create without employeeId should fail")
	}

	_, err = svc.Create(employeeActor("u1", "ICU"), &Request{})
	if err == nil {
		t.Error("create without tenantId should fail")
	}
}

func TestGetVisibility(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)
	req := newDraft(t, svc, "u1", "ICU")

	if _, err := svc.Get(employeeActor("u1", "ICU"), req.ID); err != nil {
		t.Errorf("owner Get failed: %v", err)
	}
	if _, err := svc.Get(employeeActor("u2", "ICU"), req.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("other employee Get: err = %v, want ErrForbidden", err)
	}

	hr := &workflow.Actor{ID: "h1", Role: workflow.RoleHR}
	if _, err := svc.Get(hr, req.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("hr Get of a draft: err = %v, want ErrForbidden", err)
	}

	if _, err := svc.Get(employeeActor("u1", "ICU"), "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get of missing id: err = %v, want ErrNotFound", err)
	}
}

func TestListFiltersPerActor(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)
	newDraft(t, svc, "u1", "ICU")
	newDraft(t, svc, "u2", "ICU")
	newDraft(t, svc, "u3", "ER")

	visible, err := svc.List(employeeActor("u1", "ICU"), "hospital-a")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(visible) != 1 || visible[0].EmployeeID != "u1" {
		t.Errorf("employee list = %d requests, want only their own", len(visible))
	}

	supervisor := &workflow.Actor{ID: "s1", Role: workflow.RoleSupervisor, Department: "ICU"}
	visible, err = svc.List(supervisor, "hospital-a")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(visible) != 2 {
		t.Errorf("supervisor list = %d requests, want 2 ICU requests", len(visible))
	}

	admin := &workflow.Actor{ID: "a1", Role: workflow.RoleAdmin}
	visible, err = svc.List(admin, "hospital-a")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(visible) != 3 {
		t.Errorf("admin list = %d requests, want all 3", len(visible))
	}
}

func TestListVisibilityFollowsStatus(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)
	req := newDraft(t, svc, "u1", "ICU")

	hr := &workflow.Actor{ID: "h1", Role: workflow.RoleHR}
	visible, _ := svc.List(hr, "hospital-a")
	if len(visible) != 0 {
		t.Fatalf("hr should not see drafts, saw %d", len(visible))
	}

	if _, err := svc.Transition(employeeActor("u1", "ICU"), req.ID, workflow.StatusSubmitted, "", nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	visible, _ = svc.List(hr, "hospital-a")
	if len(visible) != 1 {
		t.Errorf("hr should see the request once submitted, saw %d", len(visible))
	}
}

func TestTransitionClassifiesOnSubmit(t *testing.T) {
	classifier := &stubClassifier{
		outcome: &allowance.Outcome{AllowanceGroup: "Nurse", Tier: "3"},
	}
	svc := NewService(NewInMemoryStore(), classifier)
	req := newDraft(t, svc, "u1", "ICU")

	subject := allowance.Subject{"position": "Nurse", "department": "ICU"}
	updated, err := svc.Transition(employeeActor("u1", "ICU"), req.ID, workflow.StatusSubmitted, "", subject)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if classifier.calls != 1 {
		t.Errorf("classifier called %d times, want 1", classifier.calls)
	}
	if updated.Status != workflow.StatusSubmitted {
		t.Errorf("status = %s, want submitted", updated.Status)
	}
	if updated.AllowanceGroup != "Nurse" || updated.Tier != "3" {
		t.Errorf("classification = %s/%s, want Nurse/3", updated.AllowanceGroup, updated.Tier)
	}
}

func TestTransitionNoMatchClearsClassification(t *testing.T) {
	classifier := &stubClassifier{outcome: nil}
	store := NewInMemoryStore()
	svc := NewService(store, classifier)
	req := newDraft(t, svc, "u1", "ICU")

	// Simulate a stale classification left over from an earlier submission.
	if err := store.UpdateStatus(req.ID, workflow.StatusDraft, workflow.StatusDraft, &Request{
		AllowanceGroup: "Nurse", Tier: "1",
	}); err != nil {
		t.Fatalf("seeding classification failed: %v", err)
	}

	updated, err := svc.Transition(employeeActor("u1", "ICU"), req.ID, workflow.StatusSubmitted, "",
		allowance.Subject{"position": "Clerk"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if updated.AllowanceGroup != "" || updated.Tier != "" {
		t.Errorf("no-match submit should clear classification, got %s/%s",
			updated.AllowanceGroup, updated.Tier)
	}
}

func TestTransitionClassifierErrorAborts(t *testing.T) {
	classifier := &stubClassifier{err: errors.New("engine unavailable")}
	svc := NewService(NewInMemoryStore(), classifier)
	req := newDraft(t, svc, "u1", "ICU")

	_, err := svc.Transition(employeeActor("u1", "ICU"), req.ID, workflow.StatusSubmitted, "",
		allowance.Subject{"position": "Nurse"})
	if err == nil {
		t.Fatal("classifier error should abort the transition")
	}

	current, _ := svc.Get(employeeActor("u1", "ICU"), req.ID)
	if current.Status != workflow.StatusDraft {
		t.Errorf("status after failed submit = %s, want draft", current.Status)
	}
}

func TestTransitionScopeChecks(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)
	req := newDraft(t, svc, "u1", "ICU")
	if _, err := svc.Transition(employeeActor("u1", "ICU"), req.ID, workflow.StatusSubmitted, "", nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	otherDept := &workflow.Actor{ID: "s2", Role: workflow.RoleSupervisor, Department: "ER"}
	_, err := svc.Transition(otherDept, req.ID, workflow.StatusApprovedBySupervisor, "", nil)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-department supervisor transition: err = %v, want ErrForbidden", err)
	}

	_, err = svc.Transition(employeeActor("u1", "ICU"), req.ID, workflow.StatusApprovedBySupervisor, "", nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("employee approving own request: err = %v, want ErrIllegalTransition", err)
	}
}

func TestTransitionFullApprovalChain(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)
	req := newDraft(t, svc, "u1", "ICU")

	steps := []struct {
		actor *workflow.Actor
		next  workflow.Status
	}{
		{employeeActor("u1", "ICU"), workflow.StatusSubmitted},
		{&workflow.Actor{ID: "s1", Role: workflow.RoleSupervisor, Department: "ICU"}, workflow.StatusApprovedBySupervisor},
		{&workflow.Actor{ID: "h1", Role: workflow.RoleHR}, workflow.StatusApprovedByHR},
		{&workflow.Actor{ID: "f1", Role: workflow.RoleFinance}, workflow.StatusProcessed},
	}
	for _, step := range steps {
		updated, err := svc.Transition(step.actor, req.ID, step.next, "ok", nil)
		if err != nil {
			t.Fatalf("transition to %s by %s failed: %v", step.next, step.actor.Role, err)
		}
		if updated.Status != step.next {
			t.Fatalf("status = %s, want %s", updated.Status, step.next)
		}
	}

	admin := &workflow.Actor{ID: "a1", Role: workflow.RoleAdmin}
	trail, err := svc.Audit(admin, req.ID)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if len(trail) != len(steps) {
		t.Fatalf("audit trail has %d entries, want %d", len(trail), len(steps))
	}
	for i, step := range steps {
		if trail[i].ToStatus != step.next {
			t.Errorf("audit[%d].ToStatus = %s, want %s", i, trail[i].ToStatus, step.next)
		}
		if trail[i].ActorRole != step.actor.Role {
			t.Errorf("audit[%d].ActorRole = %s, want %s", i, trail[i].ActorRole, step.actor.Role)
		}
	}
	if trail[0].FromStatus != workflow.StatusDraft {
		t.Errorf("first audit entry from = %s, want draft", trail[0].FromStatus)
	}
}

func TestTransitionStatusConflict(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, nil)
	req := newDraft(t, svc, "u1", "ICU")

	err := store.UpdateStatus(req.ID, workflow.StatusSubmitted, workflow.StatusApprovedBySupervisor, nil)
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("stale CAS update: err = %v, want ErrStatusConflict", err)
	}
	err = store.UpdateStatus("no-such-id", workflow.StatusDraft, workflow.StatusSubmitted, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CAS update of missing request: err = %v, want ErrNotFound", err)
	}
}

func TestApplyTransitionConflictWritesNoAudit(t *testing.T) {
	store := NewInMemoryStore()
	if err := store.Create(&Request{
		ID: "r1", TenantID: "hospital-a", EmployeeID: "u1",
		Department: "ICU", Status: workflow.StatusDraft,
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entry := &AuditEntry{
		ID: "e1", RequestID: "r1", ActorID: "s1", ActorRole: workflow.RoleSupervisor,
		FromStatus: workflow.StatusSubmitted, ToStatus: workflow.StatusApprovedBySupervisor,
	}
	err := store.ApplyTransition("r1", workflow.StatusSubmitted, workflow.StatusApprovedBySupervisor, nil, entry)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("stale transition: err = %v, want ErrStatusConflict", err)
	}

	trail, err := store.ListAudit("r1")
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(trail) != 0 {
		t.Errorf("failed transition left %d audit entries, want 0", len(trail))
	}

	entry = &AuditEntry{
		ID: "e2", RequestID: "r1", ActorID: "u1", ActorRole: workflow.RoleEmployee,
		FromStatus: workflow.StatusDraft, ToStatus: workflow.StatusSubmitted,
	}
	if err := store.ApplyTransition("r1", workflow.StatusDraft, workflow.StatusSubmitted, nil, entry); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	got, err := store.Get("r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != workflow.StatusSubmitted {
		t.Errorf("status = %s, want submitted", got.Status)
	}
	trail, _ = store.ListAudit("r1")
	if len(trail) != 1 {
		t.Errorf("successful transition left %d audit entries, want 1", len(trail))
	}
}

func TestAdminReopensRejected(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)
	req := newDraft(t, svc, "u1", "ICU")
	supervisor := &workflow.Actor{ID: "s1", Role: workflow.RoleSupervisor, Department: "ICU"}
	admin := &workflow.Actor{ID: "a1", Role: workflow.RoleAdmin}

	if _, err := svc.Transition(employeeActor("u1", "ICU"), req.ID, workflow.StatusSubmitted, "", nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := svc.Transition(supervisor, req.ID, workflow.StatusRejectedBySupervisor, "missing docs", nil); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	reopened, err := svc.Transition(admin, req.ID, workflow.StatusSubmitted, "docs attached", nil)
	if err != nil {
		t.Fatalf("admin reopen failed: %v", err)
	}
	if reopened.Status != workflow.StatusSubmitted {
		t.Errorf("status after reopen = %s, want submitted", reopened.Status)
	}
}

func TestAuditVisibility(t *testing.T) {
	svc := NewService(NewInMemoryStore(), nil)
	req := newDraft(t, svc, "u1", "ICU")

	if _, err := svc.Audit(employeeActor("u2", "ICU"), req.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("other employee reading audit: err = %v, want ErrForbidden", err)
	}
	trail, err := svc.Audit(employeeActor("u1", "ICU"), req.ID)
	if err != nil {
		t.Fatalf("owner Audit failed: %v", err)
	}
	if len(trail) != 0 {
		t.Errorf("fresh draft audit trail has %d entries, want 0", len(trail))
	}
}
