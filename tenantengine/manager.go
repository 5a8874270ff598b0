// Package tenantengine keeps one allowance engine per tenant (hospital or
// agency). Each tenant's rule set is independent; engines are loaded at
// startup and atomically swapped when a tenant's rules change.
package tenantengine

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/allowance"
)

// TenantEngine pairs an engine with the tenant it serves.
type TenantEngine struct {
	TenantID string
	Engine   *allowance.Engine
}

// Manager holds the engines for all loaded tenants.
type Manager struct {
	engines  map[string]*TenantEngine
	db       *sql.DB
	storeFor func(tenantID string) allowance.RuleStore
	mu       sync.RWMutex
}

// NewManager creates a manager whose tenant stores are Postgres-backed.
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		engines: make(map[string]*TenantEngine),
		db:      db,
		storeFor: func(tenantID string) allowance.RuleStore {
			return allowance.NewPostgresRuleStore(db, tenantID)
		},
	}
}

// NewManagerWithStores creates a manager with a custom store factory. Used
// by tests and single-process setups without a database.
func NewManagerWithStores(storeFor func(tenantID string) allowance.RuleStore) *Manager {
	return &Manager{
		engines:  make(map[string]*TenantEngine),
		storeFor: storeFor,
	}
}

// LoadAllTenants initializes an engine for every tenant in the database.
func (m *Manager) LoadAllTenants() error {
	if m.db == nil {
		return fmt.Errorf("manager has no database to load tenants from")
	}

	rows, err := m.db.Query(`SELECT id FROM tenants`)
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return fmt.Errorf("failed to scan tenant row: %w", err)
		}

		if err := m.LoadTenant(tenantID); err != nil {
			return fmt.Errorf("failed to initialize tenant %s: %w", tenantID, err)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tenant rows: %w", err)
	}

	return nil
}

// LoadTenant builds (or rebuilds) the engine for one tenant from its stored
// rules and atomically swaps it in. Call after mutating a tenant's rules
// through a path that bypasses the engine.
func (m *Manager) LoadTenant(tenantID string) error {
	engine, err := allowance.NewEngine(m.storeFor(tenantID))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	m.mu.Lock()
	m.engines[tenantID] = &TenantEngine{
		TenantID: tenantID,
		Engine:   engine,
	}
	m.mu.Unlock()

	return nil
}

// GetEngine retrieves the engine for a tenant.
func (m *Manager) GetEngine(tenantID string) (*allowance.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, exists := m.engines[tenantID]
	if !exists {
		return nil, fmt.Errorf("tenant %s not found", tenantID)
	}

	return te.Engine, nil
}

// Classify runs a subject's facts through a tenant's active rules. Satisfies
// the request service's Classifier dependency.
func (m *Manager) Classify(tenantID string, subject allowance.Subject) (*allowance.Outcome, error) {
	engine, err := m.GetEngine(tenantID)
	if err != nil {
		return nil, err
	}
	return engine.Classify(subject)
}

// ListTenants returns all loaded tenant IDs.
func (m *Manager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.engines))
	for tenantID := range m.engines {
		tenants = append(tenants, tenantID)
	}
	return tenants
}

// RemoveTenant drops a tenant's engine. The tenant's database rows are
// untouched.
func (m *Manager) RemoveTenant(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[tenantID]; !exists {
		return fmt.Errorf("tenant %s not found", tenantID)
	}

	delete(m.engines, tenantID)
	return nil
}
