package compliance

import (
	"context"
	"fmt"
	"os"

	"github.com/mmdatafocus/eventchain/models"
	"gopkg.in/yaml.v3"
)

// FactSource supplies collaborator-owned boolean facts about a chain's document,
// e.g. "has_ksef_ref" or "accounts_set".
type FactSource interface {
	Facts(ctx context.Context, chain *models.Chain) (map[string]bool, error)
}

// StaticFacts serves the same facts for every chain. The zero value has no facts.
type StaticFacts map[string]bool

func (f StaticFacts) Facts(context.Context, *models.Chain) (map[string]bool, error) {
	return f, nil
}

// Input is everything a derivation may look at.
type Input struct {
	Chain    *models.Chain
	Objects  []*models.ChainObject
	Incoming []*models.ChainLink
	Outgoing []*models.ChainLink
	Facts    map[string]bool
}

// Result lists codes in rule order without duplicates. Slices are never nil.
type Result struct {
	RequiredActions []string `json:"required_actions"`
	Blockers        []string `json:"blockers"`
}

type Deriver struct {
	rules RuleSet
}

// NewDeriver validates rs and returns a deriver bound to it.
func NewDeriver(rs RuleSet) (*Deriver, error) {
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compliance rule set %q: %w", rs.Version, err)
	}
	return &Deriver{rules: rs}, nil
}

// MustDefaultDeriver panics only if the built-in table is broken.
func MustDefaultDeriver() *Deriver {
	d, err := NewDeriver(DefaultRuleSet())
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Deriver) Version() string {
	return d.rules.Version
}

// Derive is a pure function of its input.
func (d *Deriver) Derive(in Input) Result {
	res := Result{RequiredActions: []string{}, Blockers: []string{}}
	seen := map[string]bool{}
	for _, r := range d.rules.For(in.Chain.ChainType, in.Chain.State) {
		if r.Requires.satisfied(&in) {
			continue
		}
		key := string(r.Severity) + ":" + r.Code
		if seen[key] {
			continue
		}
		seen[key] = true
		if r.Severity == SeverityBlocker {
			res.Blockers = append(res.Blockers, r.Code)
		} else {
			res.RequiredActions = append(res.RequiredActions, r.Code)
		}
	}
	return res
}

// LoadRuleSet reads a YAML rule set file. The result is not validated; NewDeriver does that.
func LoadRuleSet(path string) (RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, err
	}
	var rs RuleSet
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return rs, nil
}

// LoadDeriver returns the default deriver when path is empty.
func LoadDeriver(path string) (*Deriver, error) {
	if path == "" {
		return NewDeriver(DefaultRuleSet())
	}
	rs, err := LoadRuleSet(path)
	if err != nil {
		return nil, err
	}
	return NewDeriver(rs)
}
