package requests

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/workflow"
)

// ErrNotFound is returned when a request ID does not exist.
var ErrNotFound = errors.New("request not found")

// ErrStatusConflict is returned when a status update's expected current
// status no longer matches the stored one (concurrent transition).
var ErrStatusConflict = errors.New("request status changed concurrently")

// Store manages request persistence. UpdateStatus is compare-and-swap on
// the current status so two reviewers cannot both win the same transition.
type Store interface {
	// Create a new request
	Create(req *Request) error

	// Get a request by ID
	Get(id string) (*Request, error)

	// ListByTenant returns a tenant's requests, newest first
	ListByTenant(tenantID string) ([]*Request, error)

	// UpdateStatus moves a request from one status to another, updating the
	// classification alongside when outcome fields are set
	UpdateStatus(id string, from, to workflow.Status, req *Request) error

	// ApplyTransition atomically performs a status update and records its
	// audit entry; neither persists without the other
	ApplyTransition(id string, from, to workflow.Status, req *Request, entry *AuditEntry) error

	// AppendAudit records a transition
	AppendAudit(entry *AuditEntry) error

	// ListAudit returns a request's audit trail, oldest first
	ListAudit(requestID string) ([]*AuditEntry, error)
}

// InMemoryStore implements Store with maps. Used in tests and handler
// wiring without a database.
type InMemoryStore struct {
	requests map[string]*Request
	audit    map[string][]*AuditEntry
	mu       sync.RWMutex
}

// NewInMemoryStore creates an in-memory request store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[string]*Request),
		audit:    make(map[string][]*AuditEntry),
	}
}

// Create adds a new request, rejecting duplicate IDs.
func (s *InMemoryStore) Create(req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request with ID %s already exists", req.ID)
	}

	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	stored := *req
	s.requests[req.ID] = &stored
	return nil
}

// Get retrieves a request by ID.
func (s *InMemoryStore) Get(id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	out := *req
	return &out, nil
}

// ListByTenant returns all of a tenant's requests.
func (s *InMemoryStore) ListByTenant(tenantID string) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if req.TenantID == tenantID {
			copied := *req
			out = append(out, &copied)
		}
	}
	return out, nil
}

// UpdateStatus CAS-updates the status and, when req is non-nil, the
// classification fields.
func (s *InMemoryStore) UpdateStatus(id string, from, to workflow.Status, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateStatusLocked(id, from, to, req)
}

func (s *InMemoryStore) updateStatusLocked(id string, from, to workflow.Status, req *Request) error {
	stored, exists := s.requests[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if stored.Status != from {
		return fmt.Errorf("%w: expected %s, have %s", ErrStatusConflict, from, stored.Status)
	}

	stored.Status = to
	if req != nil {
		stored.AllowanceGroup = req.AllowanceGroup
		stored.Tier = req.Tier
	}
	stored.UpdatedAt = time.Now()
	return nil
}

// ApplyTransition performs the status update and the audit write under one
// lock; a CAS failure leaves the audit trail untouched.
func (s *InMemoryStore) ApplyTransition(id string, from, to workflow.Status, req *Request, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateStatusLocked(id, from, to, req); err != nil {
		return err
	}

	entry.CreatedAt = time.Now()
	copied := *entry
	s.audit[entry.RequestID] = append(s.audit[entry.RequestID], &copied)
	return nil
}

// AppendAudit records a transition entry.
func (s *InMemoryStore) AppendAudit(entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.CreatedAt = time.Now()
	copied := *entry
	s.audit[entry.RequestID] = append(s.audit[entry.RequestID], &copied)
	return nil
}

// ListAudit returns a request's transition history.
func (s *InMemoryStore) ListAudit(requestID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audit[requestID]
	out := make([]*AuditEntry, len(entries))
	for i, e := range entries {
		copied := *e
		out[i] = &copied
	}
	return out, nil
}
