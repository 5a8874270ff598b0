package workflow

// transitionTable maps role -> current status -> allowed next statuses.
// Built once at init and read-only afterwards. CanTransition answers only
// structural legality; ownership and department checks are layered on by
// the caller.
var transitionTable = buildTransitionTable()

func buildTransitionTable() map[Role]map[Status][]Status {
	table := map[Role]map[Status][]Status{
		RoleEmployee: {
			StatusDraft: {StatusSubmitted, StatusArchived},
		},
		RoleSupervisor: {
			StatusSubmitted: {StatusApprovedBySupervisor, StatusRejectedBySupervisor},
		},
		RoleHR: {
			StatusApprovedBySupervisor: {StatusApprovedByHR, StatusRejectedByHR},
			StatusRejectedBySupervisor: {StatusArchived},
		},
		RoleFinance: {
			StatusApprovedByHR: {StatusProcessed, StatusRejectedByFinance},
			StatusRejectedByHR: {StatusArchived},
		},
	}

	// Admin gets the union of every other role's transitions, may re-open
	// any rejected request back to submitted, and may archive from any
	// non-archived state.
	admin := make(map[Status][]Status)
	for role, byStatus := range table {
		if role == RoleAdmin {
			continue
		}
		for from, tos := range byStatus {
			for _, to := range tos {
				admin[from] = appendUnique(admin[from], to)
			}
		}
	}
	for _, rejected := range []Status{StatusRejectedBySupervisor, StatusRejectedByHR, StatusRejectedByFinance} {
		admin[rejected] = appendUnique(admin[rejected], StatusSubmitted)
	}
	for status := range statuses {
		if status == StatusArchived {
			continue
		}
		admin[status] = appendUnique(admin[status], StatusArchived)
	}
	table[RoleAdmin] = admin

	return table
}

func appendUnique(list []Status, s Status) []Status {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// CanTransition reports whether role may move a request from current to
// next. False for unknown roles and statuses, empty arguments, and every
// pair the table does not explicitly allow.
func CanTransition(role Role, current, next Status) bool {
	if role == "" || current == "" || next == "" {
		return false
	}

	byStatus, ok := transitionTable[role]
	if !ok {
		return false
	}

	allowed, ok := byStatus[current]
	if !ok {
		return false
	}

	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// AllowedNext returns the statuses role may move a request in current to.
// Returns nil when the role has no transitions from current. The slice is a
// copy; callers may not mutate the table through it.
func AllowedNext(role Role, current Status) []Status {
	byStatus, ok := transitionTable[role]
	if !ok {
		return nil
	}

	allowed, ok := byStatus[current]
	if !ok {
		return nil
	}

	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}
