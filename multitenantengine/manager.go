package multitenantengine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/discounts/rules"
)

var (
	// ErrTenantNotFound is returned for an unknown storefront ID
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantExists is returned when a storefront ID is already taken
	ErrTenantExists = errors.New("tenant already exists")
)

// StorefrontConfig describes a tenant before its engine is built
type StorefrontConfig struct {
	ID     string
	Name   string
	Policy rules.Policy
}

// Storefront is one tenant: its rule engine and the policy used to combine matches.
// Values are replaced, never modified, so a *Storefront obtained from the
// manager is a consistent snapshot.
type Storefront struct {
	ID        string
	Name      string
	Policy    rules.Policy
	Engine    *rules.Engine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Quote is the evaluation of one cart for one storefront
type Quote struct {
	TenantID string
	Results  []*rules.EvaluationResult
	Summary  rules.Summary
}

// Manager manages engines for all storefronts
type Manager struct {
	storefronts map[string]*Storefront
	engineOpts  []rules.EngineOption
	mu          sync.RWMutex
}

// NewManager creates a manager; opts are applied to every engine it builds
func NewManager(opts ...rules.EngineOption) *Manager {
	return &Manager{
		storefronts: make(map[string]*Storefront),
		engineOpts:  opts,
	}
}

// CreateStorefront validates cfg and builds an engine over ruleSet.
// An empty policy defaults to rules.PolicyAll.
func (m *Manager) CreateStorefront(cfg StorefrontConfig, ruleSet []*rules.Rule) error {
	if cfg.Policy == "" {
		cfg.Policy = rules.PolicyAll
	}
	if err := ValidateConfig(cfg, len(ruleSet)); err != nil {
		return err
	}

	engine, err := m.newEngine(ruleSet)
	if err != nil {
		return fmt.Errorf("failed to create engine for %s: %w", cfg.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.storefronts[cfg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTenantExists, cfg.ID)
	}

	now := time.Now()
	m.storefronts[cfg.ID] = &Storefront{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Policy:    cfg.Policy,
		Engine:    engine,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get returns the current snapshot of a storefront
func (m *Manager) Get(tenantID string) (*Storefront, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sf, exists := m.storefronts[tenantID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return sf, nil
}

// GetEngine retrieves the engine for a specific storefront
func (m *Manager) GetEngine(tenantID string) (*rules.Engine, error) {
	sf, err := m.Get(tenantID)
	if err != nil {
		return nil, err
	}
	return sf.Engine, nil
}

// ReplaceRules builds a new engine over ruleSet and swaps it in.
// Evaluations in flight finish against the old engine.
func (m *Manager) ReplaceRules(tenantID string, ruleSet []*rules.Rule) error {
	current, err := m.Get(tenantID)
	if err != nil {
		return err
	}

	cfg := StorefrontConfig{ID: current.ID, Name: current.Name, Policy: current.Policy}
	if err := ValidateConfig(cfg, len(ruleSet)); err != nil {
		return err
	}

	engine, err := m.newEngine(ruleSet)
	if err != nil {
		return fmt.Errorf("failed to create engine for %s: %w", tenantID, err)
	}

	return m.swap(tenantID, func(sf *Storefront) {
		sf.Engine = engine
	})
}

// SetPolicy changes how a storefront combines matched discounts
func (m *Manager) SetPolicy(tenantID string, policy rules.Policy) error {
	if !policy.Valid() {
		return fmt.Errorf("%w: unknown policy %q", rules.ErrInvalidArgument, policy)
	}
	return m.swap(tenantID, func(sf *Storefront) {
		sf.Policy = policy
	})
}

// List returns all storefronts sorted by ID
func (m *Manager) List() []*Storefront {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Storefront, 0, len(m.storefronts))
	for _, sf := range m.storefronts {
		all = append(all, sf)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Delete removes a storefront
func (m *Manager) Delete(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.storefronts[tenantID]; !exists {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	delete(m.storefronts, tenantID)
	return nil
}

// Quote evaluates the cart for a storefront and combines the matches with its policy.
// With ruleIDs only those rules are evaluated, in the given order, whether active or not.
func (m *Manager) Quote(tenantID string, cart rules.Cart, ruleIDs ...string) (*Quote, error) {
	sf, err := m.Get(tenantID)
	if err != nil {
		return nil, err
	}

	var results []*rules.EvaluationResult
	if len(ruleIDs) > 0 {
		results = make([]*rules.EvaluationResult, 0, len(ruleIDs))
		for _, id := range ruleIDs {
			result, err := sf.Engine.Evaluate(id, cart)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	} else {
		results, err = sf.Engine.EvaluateAll(cart)
		if err != nil {
			return nil, err
		}
	}

	outcomes := make([]rules.Outcome, len(results))
	for i, r := range results {
		outcomes[i] = r.Outcome
	}

	return &Quote{
		TenantID: tenantID,
		Results:  results,
		Summary:  sf.Policy.Apply(outcomes),
	}, nil
}

func (m *Manager) newEngine(ruleSet []*rules.Rule) (*rules.Engine, error) {
	store := rules.NewInMemoryRuleStore()
	for i, r := range ruleSet {
		if err := rules.ValidateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if err := store.Add(r); err != nil {
			return nil, err
		}
	}
	return rules.NewEngine(store, m.engineOpts...)
}

// swap replaces a storefront with a modified copy
func (m *Manager) swap(tenantID string, modify func(sf *Storefront)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.storefronts[tenantID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	next := *current
	modify(&next)
	next.UpdatedAt = time.Now()
	m.storefronts[tenantID] = &next
	return nil
}
