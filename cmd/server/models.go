package main

import (
	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/allowance"
)

// API request and response models.

// CreateTenantRequest is the body for registering a tenant (hospital or
// agency).
type CreateTenantRequest struct {
	Name string `json:"name"`
}

// SaveRuleRequest is the body for creating or updating an allowance rule.
// Exactly one of Conditions.All, Conditions.Any, or Expression must be set.
type SaveRuleRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Priority    int                    `json:"priority"`
	Active      bool                   `json:"active"`
	Conditions  allowance.ConditionSet `json:"conditions"`
	Expression  string                 `json:"expression,omitempty"`
	Outcome     allowance.Outcome      `json:"outcome"`
}

func (r *SaveRuleRequest) toRule() *allowance.Rule {
	return &allowance.Rule{
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		Active:      r.Active,
		Conditions:  r.Conditions,
		Expression:  r.Expression,
		Outcome:     r.Outcome,
	}
}

// ClassifyRequest asks which allowance group and tier a subject's facts
// place them in.
type ClassifyRequest struct {
	TenantID string            `json:"tenantId"`
	Subject  allowance.Subject `json:"subject"`
}

// ClassifyResponse carries the classification; both fields are null when no
// rule matched.
type ClassifyResponse struct {
	AllowanceGroup *string `json:"allowanceGroup"`
	Tier           *string `json:"tier"`
}

// CreateRequestRequest opens a draft allowance request. EmployeeID is
// required for admins and ignored for employees (always their own).
type CreateRequestRequest struct {
	TenantID   string `json:"tenantId"`
	EmployeeID string `json:"employeeId,omitempty"`
	Department string `json:"department,omitempty"`
	Note       string `json:"note,omitempty"`
}

// TransitionRequest moves a request to a new status. Subject carries the
// employee's facts and is consulted only when transitioning to submitted,
// where the request is (re)classified.
type TransitionRequest struct {
	To      string            `json:"to"`
	Note    string            `json:"note,omitempty"`
	Subject allowance.Subject `json:"subject,omitempty"`
}
