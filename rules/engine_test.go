package rules

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, []*Rule) {
	t.Helper()

	store := NewInMemoryRuleStore()
	rules := referenceRules()
	for _, r := range rules {
		if err := store.Add(r); err != nil {
			t.Fatalf("Failed to add rule: %v", err)
		}
	}

	engine, err := NewEngine(store, opts...)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return engine, rules
}

func outcomesOf(results []*EvaluationResult) []Outcome {
	out := make([]Outcome, len(results))
	for i, r := range results {
		out[i] = r.Outcome
	}
	return out
}

// TestNewEngine verifies an engine can be built over an empty store
func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(NewInMemoryRuleStore())
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	results, err := engine.EvaluateAll(cartWith("1", 1, "VIP", true))
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("empty engine returned %d results", len(results))
	}
}

// TestNewEngineRejectsInvalidStoredRule verifies compilation validates existing rules
func TestNewEngineRejectsInvalidStoredRule(t *testing.T) {
	store := NewInMemoryRuleStore()
	store.Add(&Rule{ID: "bad", Name: "bad", Condition: CategoryEquals(""), Active: true})

	if _, err := NewEngine(store); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewEngine() error = %v, want ErrInvalidArgument", err)
	}
}

// TestEngineEvaluateAllScenarios runs the reference carts through the engine
func TestEngineEvaluateAllScenarios(t *testing.T) {
	engine, rules := newTestEngine(t)

	tests := []struct {
		cart Cart
		want []Outcome
	}{
		{cartWith("1500", 15, "Regular", false), []Outcome{Matched(dec("15")), NotMatched, NotMatched}},
		{cartWith("500", 5, "VIP", false), []Outcome{NotMatched, Matched(dec("20")), NotMatched}},
		{cartWith("200", 2, "Regular", true), []Outcome{NotMatched, NotMatched, Matched(dec("10"))}},
		{cartWith("1000", 10, "Regular", false), []Outcome{NotMatched, NotMatched, NotMatched}},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("cart %d", i+1), func(t *testing.T) {
			results, err := engine.EvaluateAll(tt.cart)
			if err != nil {
				t.Fatalf("EvaluateAll() failed: %v", err)
			}
			assertOutcomes(t, outcomesOf(results), tt.want)

			for j, r := range results {
				if r.RuleID != rules[j].ID || r.RuleName != rules[j].Name {
					t.Errorf("result[%d] is rule %s, want %s", j, r.RuleID, rules[j].ID)
				}
				if r.Trace != nil {
					t.Errorf("result[%d] has a trace with tracing disabled", j)
				}
			}
		})
	}
}

// TestEngineEvaluateSingleRule evaluates one rule by ID
func TestEngineEvaluateSingleRule(t *testing.T) {
	engine, rules := newTestEngine(t)

	result, err := engine.Evaluate(rules[1].ID, cartWith("500", 5, "VIP", false))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !result.Outcome.Equal(Matched(dec("20"))) {
		t.Errorf("Outcome = %s, want Matched(20)", result.Outcome)
	}
	if result.Expression != `customerCategory == "VIP"` {
		t.Errorf("Expression = %q", result.Expression)
	}

	if _, err := engine.Evaluate("missing", cartWith("1", 1, "", false)); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Evaluate() of unknown rule error = %v, want ErrRuleNotFound", err)
	}
}

// TestEngineTracing verifies the compiled expression is evaluated and agrees
func TestEngineTracing(t *testing.T) {
	engine, _ := newTestEngine(t, WithTracing(true))

	results, err := engine.EvaluateAll(cartWith("1500", 15, "Regular", false))
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}

	for i, r := range results {
		if r.Trace == nil {
			t.Fatalf("result[%d] has no trace", i)
		}
		if r.Trace.Error != "" {
			t.Errorf("result[%d] trace error: %s", i, r.Trace.Error)
		}
		if !r.Trace.Agrees || r.Trace.Matched != r.Outcome.Matched {
			t.Errorf("result[%d] trace %+v disagrees with outcome %s", i, r.Trace, r.Outcome)
		}
	}
}

// TestEngineObserver verifies observers registered on the engine see matches
func TestEngineObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	engine, _ := newTestEngine(t, WithObserver(LogObserver(logger)))

	if _, err := engine.EvaluateAll(cartWith("2000", 20, "VIP", false)); err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Rule applied: 15% discount", "Rule applied: 20% discount"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Rule applied: 10% discount") {
		t.Error("non-matching rule was announced")
	}
}

// TestEngineAddRule verifies added rules are evaluated after existing ones
func TestEngineAddRule(t *testing.T) {
	engine, _ := newTestEngine(t)

	loyal := NewRule("big vip", And(CategoryEquals("VIP"), ValueGreaterThan(dec("400"))), dec("5"))
	if err := engine.AddRule(loyal); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	results, _ := engine.EvaluateAll(cartWith("500", 5, "VIP", false))
	if len(results) != 4 {
		t.Fatalf("EvaluateAll() returned %d results, want 4", len(results))
	}
	if results[3].RuleID != loyal.ID || !results[3].Outcome.Equal(Matched(dec("5"))) {
		t.Errorf("last result = %s %s, want %s Matched(5)", results[3].RuleID, results[3].Outcome, loyal.ID)
	}

	if err := engine.AddRule(loyal); !errors.Is(err, ErrRuleExists) {
		t.Errorf("AddRule() duplicate error = %v, want ErrRuleExists", err)
	}
}

// TestEngineAddRuleValidation verifies invalid rules never reach the store
func TestEngineAddRuleValidation(t *testing.T) {
	engine, _ := newTestEngine(t)

	bad := NewRule("bad", QuantityGreaterThan(-3), dec("5"))
	if err := engine.AddRule(bad); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("AddRule() error = %v, want ErrInvalidArgument", err)
	}
	if _, err := engine.Rule(bad.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("invalid rule was stored: %v", err)
	}
}

// TestEngineUpdateRule verifies the new condition takes effect
func TestEngineUpdateRule(t *testing.T) {
	engine, rules := newTestEngine(t)

	updated := *rules[1]
	updated.Condition = CategoryEquals("Gold")
	if err := engine.UpdateRule(&updated); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}

	results, _ := engine.EvaluateAll(cartWith("500", 5, "Gold", false))
	if !results[1].Outcome.Matched {
		t.Error("updated rule should match Gold")
	}

	invalid := updated
	invalid.Discount = dec("150")
	if err := engine.UpdateRule(&invalid); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("UpdateRule() error = %v, want ErrInvalidArgument", err)
	}

	missing := NewRule("missing", FirstPurchase(), dec("1"))
	if err := engine.UpdateRule(missing); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("UpdateRule() of unknown rule error = %v, want ErrRuleNotFound", err)
	}
}

// TestEngineSetActive verifies inactive rules drop out of EvaluateAll but stay addressable
func TestEngineSetActive(t *testing.T) {
	engine, rules := newTestEngine(t)
	cart := cartWith("500", 5, "VIP", false)

	off, err := engine.SetActive(rules[1].ID, false)
	if err != nil {
		t.Fatalf("SetActive() failed: %v", err)
	}
	if off.Active || !rules[1].Active {
		t.Error("SetActive() should return an inactive copy and leave the original untouched")
	}

	results, _ := engine.EvaluateAll(cart)
	if len(results) != 2 {
		t.Fatalf("EvaluateAll() returned %d results, want 2", len(results))
	}

	single, err := engine.Evaluate(rules[1].ID, cart)
	if err != nil || !single.Outcome.Matched {
		t.Errorf("Evaluate() of inactive rule = %v, %v", single, err)
	}

	if _, err := engine.SetActive(rules[1].ID, true); err != nil {
		t.Fatalf("SetActive() failed: %v", err)
	}
	results, _ = engine.EvaluateAll(cart)
	if len(results) != 3 || results[1].RuleID != rules[1].ID {
		t.Errorf("reactivated rule should return to its position")
	}
}

// TestEngineDeleteRule verifies removal
func TestEngineDeleteRule(t *testing.T) {
	engine, rules := newTestEngine(t)

	if err := engine.DeleteRule(rules[0].ID); err != nil {
		t.Fatalf("DeleteRule() failed: %v", err)
	}

	results, _ := engine.EvaluateAll(cartWith("1500", 15, "Regular", false))
	if len(results) != 2 {
		t.Errorf("EvaluateAll() returned %d results, want 2", len(results))
	}

	if err := engine.DeleteRule(rules[0].ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("DeleteRule() twice error = %v, want ErrRuleNotFound", err)
	}
}

// TestEngineUsesCache verifies repeated evaluations hit the active-rule cache
func TestEngineUsesCache(t *testing.T) {
	engine, _ := newTestEngine(t)
	cart := cartWith("1", 1, "Regular", false)

	for i := 0; i < 5; i++ {
		engine.EvaluateAll(cart)
	}
	if stats := engine.CacheStats(); stats.Hits != 5 {
		t.Errorf("CacheStats() = %+v, want 5 hits", stats)
	}

	engine.DeleteRule(mustFirstRule(t, engine).ID)
	engine.EvaluateAll(cart)
	if stats := engine.CacheStats(); stats.Misses != 1 {
		t.Errorf("CacheStats() = %+v, want 1 miss after a mutation", stats)
	}
}

func mustFirstRule(t *testing.T, engine *Engine) *Rule {
	t.Helper()
	all, err := engine.Rules()
	if err != nil || len(all) == 0 {
		t.Fatalf("Rules() = %v, %v", all, err)
	}
	return all[0]
}

// TestEngineConcurrentEvaluate evaluates while rules are toggled
func TestEngineConcurrentEvaluate(t *testing.T) {
	engine, rules := newTestEngine(t, WithTracing(true))

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			results, err := engine.EvaluateAll(cartWith("1500", 15, "VIP", true))
			if err != nil {
				errs <- err
				return
			}
			for _, r := range results {
				if !r.Outcome.Matched {
					errs <- fmt.Errorf("rule %s should match", r.RuleID)
				}
			}
		}()
		go func(i int) {
			defer wg.Done()
			if _, err := engine.SetActive(rules[2].ID, i%2 == 0); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

// interleavingStore runs afterList once, right after ListActive has read the rules
type interleavingStore struct {
	*InMemoryRuleStore
	afterList func()
}

func (s *interleavingStore) ListActive() ([]*Rule, error) {
	active, err := s.InMemoryRuleStore.ListActive()
	if hook := s.afterList; hook != nil {
		s.afterList = nil
		hook()
	}
	return active, err
}

// TestEngineMutationDuringCacheRefill deactivates a rule between the store read and
// the cache refill; the outdated list must not be cached
func TestEngineMutationDuringCacheRefill(t *testing.T) {
	store := &interleavingStore{InMemoryRuleStore: NewInMemoryRuleStore()}
	ruleSet := referenceRules()
	for _, r := range ruleSet {
		if err := store.Add(r); err != nil {
			t.Fatalf("Failed to add rule: %v", err)
		}
	}

	engine, err := NewEngine(store)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	vip := ruleSet[1]
	engine.cache.Invalidate()
	store.afterList = func() {
		if _, err := engine.SetActive(vip.ID, false); err != nil {
			t.Errorf("SetActive() failed: %v", err)
		}
	}

	cart := cartWith("500", 5, "VIP", false)
	if _, err := engine.EvaluateAll(cart); err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}

	results, err := engine.EvaluateAll(cart)
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("EvaluateAll() returned %d results after deactivation, want 2", len(results))
	}
	for _, r := range results {
		if r.RuleID == vip.ID {
			t.Errorf("deactivated rule still evaluated: %s", r.Outcome)
		}
	}
}

// TestEngineNilRule verifies nil rules are rejected as invalid arguments
func TestEngineNilRule(t *testing.T) {
	engine, _ := newTestEngine(t)

	if err := engine.AddRule(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("AddRule(nil) error = %v, want ErrInvalidArgument", err)
	}
	if err := engine.UpdateRule(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("UpdateRule(nil) error = %v, want ErrInvalidArgument", err)
	}
}

// TestEngineConcurrentAddSameRule verifies the losing AddRule leaves the winner compiled
func TestEngineConcurrentAddSameRule(t *testing.T) {
	engine, _ := newTestEngine(t, WithTracing(true))
	extra := NewRule("gold", CategoryEquals("Gold"), dec("7"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := engine.AddRule(extra)
			switch {
			case err == nil:
				mu.Lock()
				added++
				mu.Unlock()
			case !errors.Is(err, ErrRuleExists):
				t.Errorf("AddRule() error = %v, want ErrRuleExists", err)
			}
		}()
	}
	wg.Wait()

	if added != 1 {
		t.Fatalf("AddRule() succeeded %d times, want 1", added)
	}

	result, err := engine.Evaluate(extra.ID, cartWith("10", 1, "Gold", false))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.Trace == nil || result.Trace.Error != "" || !result.Trace.Agrees {
		t.Errorf("trace = %+v, want a compiled program that agrees", result.Trace)
	}
}

// failingUpdateStore accepts reads but refuses every update
type failingUpdateStore struct {
	*InMemoryRuleStore
}

func (failingUpdateStore) Update(*Rule) error {
	return errors.New("store unavailable")
}

// TestEngineFailedUpdateKeepsProgram verifies a refused update leaves the old program installed
func TestEngineFailedUpdateKeepsProgram(t *testing.T) {
	store := failingUpdateStore{InMemoryRuleStore: NewInMemoryRuleStore()}
	ruleSet := referenceRules()
	for _, r := range ruleSet {
		if err := store.Add(r); err != nil {
			t.Fatalf("Failed to add rule: %v", err)
		}
	}

	engine, err := NewEngine(store, WithTracing(true))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	updated := *ruleSet[1]
	updated.Condition = CategoryEquals("Gold")
	if err := engine.UpdateRule(&updated); err == nil {
		t.Fatal("UpdateRule() should fail when the store refuses it")
	}

	result, err := engine.Evaluate(ruleSet[1].ID, cartWith("500", 5, "VIP", false))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !result.Outcome.Matched {
		t.Error("the stored VIP rule should still match")
	}
	if result.Trace == nil || !result.Trace.Agrees || !result.Trace.Matched {
		t.Errorf("trace = %+v, want the old program still installed", result.Trace)
	}
}
