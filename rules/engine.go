package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// Engine evaluates the rules of a RuleStore against carts.
// Matching always uses the native condition tree. Each rule's CEL rendering is
// compiled when the rule is registered and, with tracing on, evaluated alongside.
// Safe for concurrent use.
type Engine struct {
	env       *cel.Env
	store     RuleStore
	cache     RulesCache
	programs  map[string]cel.Program // ruleID -> compiled rendering
	observers []Observer
	logger    *slog.Logger
	tracing   bool
	mu        sync.RWMutex
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the logger used for trace disagreements
func WithLogger(logger *slog.Logger) EngineOption {
	return func(en *Engine) {
		en.logger = logger
	}
}

// WithObserver registers an observer invoked for every matched rule
func WithObserver(observer Observer) EngineOption {
	return func(en *Engine) {
		en.observers = append(en.observers, observer)
	}
}

// WithTracing attaches a CEL Trace to every EvaluationResult
func WithTracing(enabled bool) EngineOption {
	return func(en *Engine) {
		en.tracing = enabled
	}
}

// WithCacheConfig replaces the default active-rule cache
func WithCacheConfig(config CacheConfig) EngineOption {
	return func(en *Engine) {
		en.cache = NewInMemoryRulesCache(config)
	}
}

// NewEngine creates an engine over store and compiles every rule already in it
func NewEngine(store RuleStore, opts ...EngineOption) (*Engine, error) {
	env, err := NewCartEnv()
	if err != nil {
		return nil, err
	}

	en := &Engine{
		env:      env,
		store:    store,
		cache:    NewInMemoryRulesCache(DefaultCacheConfig()),
		programs: make(map[string]cel.Program),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(en)
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	return en, nil
}

// CompileRule validates a rule and caches the compiled program of its condition
func (en *Engine) CompileRule(r *Rule) error {
	prog, err := en.compile(r)
	if err != nil {
		return err
	}

	en.mu.Lock()
	en.programs[r.ID] = prog
	en.mu.Unlock()

	return nil
}

// compile validates r and builds its program without installing it
func (en *Engine) compile(r *Rule) (cel.Program, error) {
	if err := ValidateRule(r); err != nil {
		return nil, err
	}
	return CompileCondition(en.env, r.Condition)
}

// CompileAllRules compiles every rule in the store and refreshes the cache
func (en *Engine) CompileAllRules() error {
	all, err := en.store.List()
	if err != nil {
		return err
	}

	for _, r := range all {
		if err := en.CompileRule(r); err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", r.ID, err)
		}
	}

	gen := en.cache.Generation()
	active, err := en.store.ListActive()
	if err != nil {
		return err
	}
	en.cache.SetIfCurrent(active, gen)

	return nil
}

// Rule returns a registered rule
func (en *Engine) Rule(ruleID string) (*Rule, error) {
	return en.store.Get(ruleID)
}

// Rules returns every registered rule, active or not, in registration order
func (en *Engine) Rules() ([]*Rule, error) {
	return en.store.List()
}

// AddRule validates, compiles and stores a rule.
// The compiled program is installed only once the store accepted the rule.
func (en *Engine) AddRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidArgument)
	}

	prog, err := en.compile(r)
	if err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if err := en.store.Add(r); err != nil {
		return err
	}
	en.programs[r.ID] = prog

	en.cache.Invalidate()
	return nil
}

// UpdateRule replaces a registered rule and recompiles it.
// On failure the previous rule and program stay in place.
func (en *Engine) UpdateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidArgument)
	}

	prog, err := en.compile(r)
	if err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if err := en.store.Update(r); err != nil {
		return err
	}
	en.programs[r.ID] = prog

	en.cache.Invalidate()
	return nil
}

// SetActive switches a rule on or off and returns the stored copy
func (en *Engine) SetActive(ruleID string, active bool) (*Rule, error) {
	en.mu.Lock()
	defer en.mu.Unlock()

	existing, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.Active = active
	if err := en.store.Update(&updated); err != nil {
		return nil, err
	}

	en.cache.Invalidate()
	return en.store.Get(ruleID)
}

// DeleteRule removes a rule and its compiled program
func (en *Engine) DeleteRule(ruleID string) error {
	en.mu.Lock()
	defer en.mu.Unlock()

	if err := en.store.Delete(ruleID); err != nil {
		return err
	}
	delete(en.programs, ruleID)

	en.cache.Invalidate()
	return nil
}

// Evaluate applies a single rule, active or not, to the cart
func (en *Engine) Evaluate(ruleID string, cart Cart) (*EvaluationResult, error) {
	r, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}
	return en.evaluate(r, cart), nil
}

// EvaluateAll applies every active rule to the cart.
// Results follow registration order and every rule is evaluated independently.
func (en *Engine) EvaluateAll(cart Cart) ([]*EvaluationResult, error) {
	active := en.cache.Get()
	if active == nil {
		// Read the generation first: a mutation landing after ListActive
		// invalidates it, and the outdated list is then not cached.
		gen := en.cache.Generation()

		var err error
		active, err = en.store.ListActive()
		if err != nil {
			return nil, err
		}
		en.cache.SetIfCurrent(active, gen)
	}

	results := make([]*EvaluationResult, 0, len(active))
	for _, r := range active {
		results = append(results, en.evaluate(r, cart))
	}
	return results, nil
}

// CacheStats exposes the active-rule cache counters
func (en *Engine) CacheStats() CacheStats {
	return en.cache.Stats()
}

func (en *Engine) evaluate(r *Rule, cart Cart) *EvaluationResult {
	result := &EvaluationResult{
		RuleID:     r.ID,
		RuleName:   r.Name,
		Expression: r.Expression(),
		Outcome:    r.Evaluate(cart, en.observers...),
	}

	if en.tracing {
		result.Trace = en.trace(r, cart, result)
	}
	return result
}

func (en *Engine) trace(r *Rule, cart Cart, result *EvaluationResult) *Trace {
	t := &Trace{Expression: result.Expression}

	en.mu.RLock()
	prog, exists := en.programs[r.ID]
	en.mu.RUnlock()

	if !exists {
		t.Error = fmt.Sprintf("rule %s is not compiled", r.ID)
		return t
	}

	matched, err := EvalProgram(prog, cart)
	if err != nil {
		t.Error = err.Error()
		return t
	}

	t.Matched = matched
	t.Agrees = matched == result.Outcome.Matched
	if !t.Agrees {
		en.logger.Warn("compiled expression disagrees with condition tree",
			"rule_id", r.ID,
			"expression", t.Expression,
			"tree_matched", result.Outcome.Matched,
			"cel_matched", matched,
		)
	}
	return t
}
