package rules

import (
	"fmt"
	"sync"
	"time"
)

// RuleStore keeps the rules an Engine evaluates.
// Listing preserves registration order, which is the order results are reported in.
type RuleStore interface {
	// Add a new rule. Implementations keep their own copy.
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// ListActive returns active rules in registration order
	ListActive() ([]*Rule, error)

	// List returns every rule in registration order
	List() ([]*Rule, error)

	// Update an existing rule, keeping its position
	Update(rule *Rule) error

	// Delete a rule
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore with a map plus an order slice.
// Safe for concurrent use.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	order []string
	now   func() time.Time
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates an empty store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
		now:   time.Now,
	}
}

// Add appends a copy of rule. IDs must be unique.
// The copy's CreatedAt and UpdatedAt are set by the store; the caller's rule is not modified.
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}

	stored := *rule
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.rules[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule, nil
}

// ListActive returns the active rules in registration order
func (s *InMemoryRuleStore) ListActive() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		if rule := s.rules[id]; rule.Active {
			active = append(active, rule)
		}
	}
	return active, nil
}

// List returns all rules in registration order
func (s *InMemoryRuleStore) List() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.rules[id])
	}
	return all, nil
}

// Update replaces a rule with a copy of rule, keeping its position.
// CreatedAt is preserved and UpdatedAt refreshed on the copy.
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}

	stored := *rule
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now()
	s.rules[stored.ID] = &stored
	return nil
}

// Delete removes a rule
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	delete(s.rules, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
