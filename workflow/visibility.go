package workflow

// Actor is the authenticated identity a visibility or transition check is
// made for. Never mutated by this package.
type Actor struct {
	ID         string
	Role       Role
	Department string
}

// RequestRef carries the request fields visibility decisions depend on.
// The requests package adapts its entity to this shape so this package
// stays dependency-free.
type RequestRef struct {
	EmployeeID string
	Department string
	Status     Status
}

// CanViewRequest reports whether actor may see the request:
//
//   - admin sees everything
//   - employee sees only their own requests
//   - supervisor sees every request in their department, not just the ones
//     awaiting their approval
//   - hr sees anything that has left draft
//   - finance sees only requests that cleared HR
//
// nil inputs and unknown roles resolve to false.
func CanViewRequest(actor *Actor, req *RequestRef) bool {
	if actor == nil || req == nil {
		return false
	}

	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleEmployee:
		return actor.ID != "" && actor.ID == req.EmployeeID
	case RoleSupervisor:
		return actor.Department != "" && actor.Department == req.Department
	case RoleHR:
		return req.Status != StatusDraft && req.Status != ""
	case RoleFinance:
		switch req.Status {
		case StatusApprovedByHR, StatusProcessed, StatusRejectedByFinance:
			return true
		}
		return false
	}

	return false
}
