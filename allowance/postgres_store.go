package allowance

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL, scoped to one
// tenant (hospital/agency). Conditions are stored as JSONB.
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore for a tenant.
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

// Add inserts a new rule.
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1 AND tenant_id = $2)
	`, rule.ID, s.tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO rules (id, tenant_id, name, description, priority, active,
			conditions, expression, allowance_group, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rule.ID, s.tenantID, rule.Name, rule.Description, rule.Priority, rule.Active,
		conditionsJSON, rule.Expression, rule.Outcome.AllowanceGroup, rule.Outcome.Tier,
		rule.CreatedAt, rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, priority, active, conditions, expression,
			allowance_group, tier, created_at, updated_at
		FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// List returns all of the tenant's rules, highest priority first.
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	return s.list(false)
}

// ListActive returns the tenant's active rules, highest priority first.
func (s *PostgresRuleStore) ListActive() ([]*Rule, error) {
	return s.list(true)
}

func (s *PostgresRuleStore) list(activeOnly bool) ([]*Rule, error) {
	query := `
		SELECT id, name, description, priority, active, conditions, expression,
			allowance_group, tier, created_at, updated_at
		FROM rules
		WHERE tenant_id = $1`
	if activeOnly {
		query += ` AND active = true`
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := s.db.Query(query, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, description = $2, priority = $3, active = $4,
			conditions = $5, expression = $6, allowance_group = $7, tier = $8,
			updated_at = $9
		WHERE id = $10 AND tenant_id = $11
	`, rule.Name, rule.Description, rule.Priority, rule.Active,
		conditionsJSON, rule.Expression, rule.Outcome.AllowanceGroup, rule.Outcome.Tier,
		rule.UpdatedAt, rule.ID, s.tenantID)

	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", rule.ID)
	}

	return nil
}

// Delete removes a rule.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var conditionsJSON []byte
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.Priority,
		&rule.Active,
		&conditionsJSON,
		&rule.Expression,
		&rule.Outcome.AllowanceGroup,
		&rule.Outcome.Tier,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}

	return &rule, nil
}
