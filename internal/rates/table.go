// Package rates provides the commission rate table and its immutable
// snapshots. The percentages the platform charges per revenue stream live
// here as data; nothing else in the engine hard-codes a rate.
package rates

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmcallister/fareledger/internal/common"
	"github.com/jmcallister/fareledger/internal/model"
	"github.com/jmcallister/fareledger/internal/service"
)

type ruleKey struct {
	category model.RevenueCategory
	tier     string
}

// Table is the mutable rate configuration. Exactly one rule exists per
// (category, tier) pair; evaluation always goes through a Snapshot so a
// concurrent rate change never alters an in-flight aggregation.
type Table struct {
	rules map[ruleKey]model.RateRule
}

// NewTable builds a table from rules, rejecting invalid or duplicate
// (category, tier) entries.
func NewTable(rules []model.RateRule) (*Table, error) {
	t := &Table{rules: make(map[ruleKey]model.RateRule, len(rules))}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		k := ruleKey{category: r.Category, tier: r.Tier}
		if _, ok := t.rules[k]; ok {
			return nil, fmt.Errorf("duplicate rate rule for %s/%q", r.Category, r.Tier)
		}
		t.rules[k] = r
	}
	return t, nil
}

// LoadActive builds a table from the rules persisted in storage, seeding
// the defaults on first use.
func LoadActive(ctx context.Context, store service.Storage) (*Table, error) {
	rules, err := store.GetRateRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate rules: %w", err)
	}
	if len(rules) == 0 {
		rules = DefaultRules()
		if err := store.SaveRateRules(ctx, rules); err != nil {
			return nil, fmt.Errorf("failed to seed default rate rules: %w", err)
		}
	}
	return NewTable(rules)
}

// Snapshot freezes the table's current rules. The returned snapshot owns a
// deep copy and never observes later table changes.
func (t *Table) Snapshot() *Snapshot {
	rules := make(map[ruleKey]model.RateRule, len(t.rules))
	for k, v := range t.rules {
		rules[k] = v
	}
	return &Snapshot{rules: rules, takenAt: time.Now().UTC()}
}

// Rules returns the table's rules sorted by category then tier, for
// listing and persistence. The untiered rule leads its category.
func (t *Table) Rules() []model.RateRule {
	out := make([]model.RateRule, 0, len(t.rules))
	for _, cat := range model.Categories() {
		if r, ok := t.rules[ruleKey{category: cat}]; ok {
			out = append(out, r)
		}
		var tiered []model.RateRule
		for k, r := range t.rules {
			if k.category == cat && k.tier != "" {
				tiered = append(tiered, r)
			}
		}
		sort.Slice(tiered, func(i, j int) bool { return tiered[i].Tier < tiered[j].Tier })
		out = append(out, tiered...)
	}
	return out
}

// Set inserts or replaces the rule for the rule's (category, tier) pair.
func (t *Table) Set(rule model.RateRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	t.rules[ruleKey{category: rule.Category, tier: rule.Tier}] = rule
	return nil
}

// Snapshot is the frozen set of rate rules in effect at the moment a
// settlement is aggregated.
type Snapshot struct {
	takenAt time.Time
	rules   map[ruleKey]model.RateRule
}

// TakenAt reports when the snapshot was frozen.
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// Resolve returns the single rule for (category, tier). A tiered lookup
// falls back to the category's untiered rule; if neither exists the
// resolution fails hard. Silently zero-rating revenue is the bug class
// this guards against.
func (s *Snapshot) Resolve(category model.RevenueCategory, tier string) (model.RateRule, error) {
	if r, ok := s.rules[ruleKey{category: category, tier: tier}]; ok {
		return r, nil
	}
	if tier != "" {
		if r, ok := s.rules[ruleKey{category: category}]; ok {
			return r, nil
		}
	}
	return model.RateRule{}, fmt.Errorf("%w: %s/%q", common.ErrUnresolvedRate, category, tier)
}
