package requests

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/workflow"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed request store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new request.
func (s *PostgresStore) Create(req *Request) error {
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO requests (id, tenant_id, employee_id, department, status,
			allowance_group, tier, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.TenantID, req.EmployeeID, req.Department, string(req.Status),
		req.AllowanceGroup, req.Tier, req.Note, req.CreatedAt, req.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}

	return nil
}

// Get retrieves a request by ID.
func (s *PostgresStore) Get(id string) (*Request, error) {
	var req Request
	var status string
	err := s.db.QueryRow(`
		SELECT id, tenant_id, employee_id, department, status,
			allowance_group, tier, note, created_at, updated_at
		FROM requests
		WHERE id = $1
	`, id).Scan(
		&req.ID,
		&req.TenantID,
		&req.EmployeeID,
		&req.Department,
		&status,
		&req.AllowanceGroup,
		&req.Tier,
		&req.Note,
		&req.CreatedAt,
		&req.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	req.Status = workflow.Status(status)
	return &req, nil
}

// ListByTenant returns a tenant's requests, newest first.
func (s *PostgresStore) ListByTenant(tenantID string) ([]*Request, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, employee_id, department, status,
			allowance_group, tier, note, created_at, updated_at
		FROM requests
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		var req Request
		var status string
		if err := rows.Scan(&req.ID, &req.TenantID, &req.EmployeeID, &req.Department,
			&status, &req.AllowanceGroup, &req.Tier, &req.Note,
			&req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		req.Status = workflow.Status(status)
		out = append(out, &req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}

	return out, nil
}

// execer abstracts over *sql.DB and *sql.Tx so the status and audit writes
// run the same SQL inside or outside a transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpdateStatus moves a request from one status to another. The WHERE clause
// on the current status makes the update a compare-and-swap: zero rows
// affected with an existing request means a concurrent transition won.
func (s *PostgresStore) UpdateStatus(id string, from, to workflow.Status, req *Request) error {
	return s.updateStatus(s.db, id, from, to, req)
}

func (s *PostgresStore) updateStatus(e execer, id string, from, to workflow.Status, req *Request) error {
	var result sql.Result
	var err error

	if req != nil {
		result, err = e.Exec(`
			UPDATE requests
			SET status = $1, allowance_group = $2, tier = $3, updated_at = NOW()
			WHERE id = $4 AND status = $5
		`, string(to), req.AllowanceGroup, req.Tier, id, string(from))
	} else {
		result, err = e.Exec(`
			UPDATE requests
			SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = $3
		`, string(to), id, string(from))
	}

	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.Get(id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: request %s is no longer %s", ErrStatusConflict, id, from)
	}

	return nil
}

// ApplyTransition wraps the status update and its audit entry in one
// transaction so a transition can never persist without its trail.
func (s *PostgresStore) ApplyTransition(id string, from, to workflow.Status, req *Request, entry *AuditEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transition: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateStatus(tx, id, from, to, req); err != nil {
		return err
	}
	if err := appendAudit(tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// AppendAudit records a transition entry.
func (s *PostgresStore) AppendAudit(entry *AuditEntry) error {
	return appendAudit(s.db, entry)
}

func appendAudit(e execer, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now()

	_, err := e.Exec(`
		INSERT INTO request_audit (id, request_id, actor_id, actor_role,
			from_status, to_status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.RequestID, entry.ActorID, string(entry.ActorRole),
		string(entry.FromStatus), string(entry.ToStatus), entry.Note, entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// ListAudit returns a request's transition history, oldest first.
func (s *PostgresStore) ListAudit(requestID string) ([]*AuditEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, request_id, actor_id, actor_role, from_status, to_status,
			note, created_at
		FROM request_audit
		WHERE request_id = $1
		ORDER BY created_at ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var role, from, to string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ActorID, &role,
			&from, &to, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ActorRole = workflow.Role(role)
		e.FromStatus = workflow.Status(from)
		e.ToStatus = workflow.Status(to)
		out = append(out, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return out, nil
}
