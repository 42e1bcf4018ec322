// Package rule implements the per-direction Rule Table from spec.md §3/§4.2:
// rules sorted by descending priority, ties broken by insertion order,
// find_match scanning in that order, and a generation counter bumped on
// every mutation so owning layers can lazily invalidate their flow tables.
// Grounded on the teacher's internal/config validation style (typed
// mutation methods returning errors, never panicking) and on
// internal/ebpf/flow.Manager's mutex-guarded collection shape.
package rule

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
)

// ID is a rule's stable numeric identifier (spec.md §3: "each rule has a
// stable numeric id for telemetry"). IDs are assigned by NextID and never
// reused within a process lifetime.
type ID uint64

var idCounter uint64

// NextID allocates the next process-unique rule ID.
func NextID() ID { return ID(atomic.AddUint64(&idCounter, 1)) }

// Rule is the (priority, predicate-list, action) triple from spec.md §3.
// UUID is a secondary, externally-stable identifier surfaced over the
// control plane (SPEC_FULL.md §3 ties github.com/google/uuid to rule
// identifiers) so a client need not track the process-local numeric ID
// across a control-plane reconnect.
type Rule struct {
	ID         ID
	UUID       uuid.UUID
	Priority   int
	Predicates match.All
	Action     *action.Action

	insertSeq uint64
	hitCount  atomic.Uint64
}

// HitCount returns the number of times this rule has been the matched
// rule in find_match, for dump_rules telemetry (SPEC_FULL.md §4.2).
func (r *Rule) HitCount() uint64 { return r.hitCount.Load() }

// New builds a Rule with a freshly allocated ID and UUID.
func New(priority int, predicates match.All, act *action.Action) *Rule {
	return &Rule{ID: NextID(), UUID: uuid.New(), Priority: priority, Predicates: predicates, Action: act}
}

// Table is a per-direction rule table. Rule equality is by ID only
// (spec.md §4.2).
type Table struct {
	mu          sync.RWMutex
	rules       []*Rule
	nextInsert  uint64
	onMutate    func()
}

// NewTable builds an empty Table. onMutate is invoked (without the
// Table's lock held) after every structural mutation (add_rule,
// remove_rule, clear) so the owning Layer can bump its generation counter
// (spec.md §4.2).
func NewTable(onMutate func()) *Table {
	if onMutate == nil {
		onMutate = func() {}
	}
	return &Table{onMutate: onMutate}
}

// Add inserts r, keeping rules sorted by descending priority with ties
// broken by insertion order (spec.md §3).
func (t *Table) Add(r *Rule) {
	t.mu.Lock()
	r.insertSeq = t.nextInsert
	t.nextInsert++
	t.rules = append(t.rules, r)
	sort.SliceStable(t.rules, func(i, j int) bool {
		if t.rules[i].Priority != t.rules[j].Priority {
			return t.rules[i].Priority > t.rules[j].Priority
		}
		return t.rules[i].insertSeq < t.rules[j].insertSeq
	})
	t.mu.Unlock()
	t.onMutate()
}

// Remove deletes the rule with the given ID. Reports whether a rule was
// removed.
func (t *Table) Remove(id ID) bool {
	t.mu.Lock()
	found := -1
	for i, r := range t.rules {
		if r.ID == id {
			found = i
			break
		}
	}
	if found >= 0 {
		t.rules = append(t.rules[:found], t.rules[found+1:]...)
	}
	t.mu.Unlock()
	if found >= 0 {
		t.onMutate()
	}
	return found >= 0
}

// Clear removes every rule.
func (t *Table) Clear() {
	t.mu.Lock()
	t.rules = nil
	t.mu.Unlock()
	t.onMutate()
}

// FindMatch scans rules in priority order and returns the first whose
// predicate list evaluates true against view and meta (spec.md §4.2:
// "scan in order; return first whose predicate set all evaluates true").
func (t *Table) FindMatch(view match.Fields, meta match.Meta) (*Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.rules {
		if r.Predicates.Match(view, meta) {
			r.hitCount.Add(1)
			return r, true
		}
	}
	return nil, false
}

// Get returns the rule with the given ID, if present.
func (t *Table) Get(id ID) (*Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.rules {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Snapshot returns a point-in-time copy of the rule list in evaluation
// order, for ListRules/dump_rules (SPEC_FULL.md §4.2).
func (t *Table) Snapshot() []*Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len returns the current rule count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}

// RequireGet returns the rule with the given ID, or an error of kind
// KindRuleNotFound (the RuleNotFound kind used in the control plane) if t
// holds no such rule.
func RequireGet(t *Table, id ID) (*Rule, error) {
	r, ok := t.Get(id)
	if !ok {
		return nil, opteerr.Errorf(opteerr.KindRuleNotFound, "rule %d not found", id)
	}
	return r, nil
}
