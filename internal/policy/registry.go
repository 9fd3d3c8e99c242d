package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Declarer is implemented by entity types that carry their own export policy.
type Declarer interface {
	TableName() string
	ExportPolicy() *Policy
}

// Registry maps table names to their export policy. It is filled once at
// startup and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]*Policy)}
}

// Register attaches p to table. Registering the same table twice is an error.
func (r *Registry) Register(table string, p *Policy) error {
	name := strings.TrimSpace(table)
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("policy for table %s cannot be nil", name)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy for table %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := r.policies[key]; exists {
		return fmt.Errorf("policy for table %s already registered", name)
	}
	r.policies[key] = p.clone()
	return nil
}

// RegisterEntity registers the policy declared by d.
func (r *Registry) RegisterEntity(d Declarer) error {
	return r.Register(d.TableName(), d.ExportPolicy())
}

// RegisterAll registers every entry of policies, stopping at the first error.
func (r *Registry) RegisterAll(policies map[string]*Policy) error {
	tables := make([]string, 0, len(policies))
	for table := range policies {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		if err := r.Register(table, policies[table]); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the policy of table and whether one was registered.
func (r *Registry) Lookup(table string) (*Policy, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[strings.ToLower(table)]
	return p, ok
}

// For returns the policy of table, or an empty pass-through policy.
func (r *Registry) For(table string) *Policy {
	if p, ok := r.Lookup(table); ok {
		return p
	}
	return New()
}

// Tables lists the registered table names in sorted order.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tables := make([]string, 0, len(r.policies))
	for table := range r.policies {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

var defaultRegistry = NewRegistry()

// RegisterPolicy registers p for table in the process-wide default registry.
func RegisterPolicy(table string, p *Policy) error {
	return defaultRegistry.Register(table, p)
}

// Default returns the process-wide registry used by RegisterPolicy.
func Default() *Registry {
	return defaultRegistry
}

// Merge registers every policy of other into r.
func (r *Registry) Merge(other *Registry) error {
	if other == nil || other == r {
		return nil
	}
	other.mu.RLock()
	snapshot := make(map[string]*Policy, len(other.policies))
	for table, p := range other.policies {
		snapshot[table] = p
	}
	other.mu.RUnlock()

	return r.RegisterAll(snapshot)
}
