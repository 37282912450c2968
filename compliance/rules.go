package compliance

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/eventchain/models"
)

type Severity string

const (
	SeverityAction  Severity = "action"
	SeverityBlocker Severity = "blocker"
)

// Required action codes.
const (
	ActionApprovePayment   = "approve_payment"
	ActionAttachProof      = "attach_proof"
	ActionSetAccounts      = "set_accounts"
	ActionAddKsefRef       = "add_ksef_ref"
	ActionVerifyAmount     = "verify_amount"
	ActionMatchTransaction = "match_transaction"
)

// Blocker codes.
const (
	BlockerMissingKsefRef       = "missing_ksef_ref"
	BlockerMissingDebitAccount  = "missing_debit_account"
	BlockerMissingCreditAccount = "missing_credit_account"
	BlockerMissingProof         = "missing_proof"
	BlockerInsufficientBalance  = "insufficient_balance"
	BlockerUnmatchedTransaction = "unmatched_transaction"
)

// Rule emits Code when its Requires condition is not satisfied.
type Rule struct {
	Code     string    `yaml:"code"`
	Severity Severity  `yaml:"severity"`
	Requires Condition `yaml:"requires"`
}

// RuleSet is the (chain_type, state) -> rules table. Every pair in the chain state table
// must have an entry, possibly empty.
type RuleSet struct {
	Version string                                                `yaml:"version"`
	Rules   map[models.ChainType]map[models.ChainState][]Rule `yaml:"rules"`
}

// For returns the rules of a pair; nil when the pair has no rules.
func (rs RuleSet) For(t models.ChainType, s models.ChainState) []Rule {
	return rs.Rules[t][s]
}

// Validate checks the table is exhaustive over the chain state table and that every
// rule is well formed.
func (rs RuleSet) Validate() error {
	var errs []error
	for t, byState := range rs.Rules {
		if !t.IsValid() {
			errs = append(errs, fmt.Errorf("unknown chain type %q", t))
			continue
		}
		for s, rules := range byState {
			if !models.IsValidState(t, s) {
				errs = append(errs, fmt.Errorf("%s: state %q is not in the type's state set", t, s))
				continue
			}
			for i, r := range rules {
				if err := r.validate(); err != nil {
					errs = append(errs, fmt.Errorf("%s/%s rule %d: %w", t, s, i, err))
				}
			}
		}
	}
	for _, t := range models.AllChainTypes {
		for _, s := range models.StatesFor(t) {
			if _, ok := rs.Rules[t][s]; !ok {
				errs = append(errs, fmt.Errorf("%s/%s: no rule entry", t, s))
			}
		}
	}
	return errors.Join(errs...)
}

func (r Rule) validate() error {
	if r.Code == "" {
		return errors.New("empty code")
	}
	if r.Severity != SeverityAction && r.Severity != SeverityBlocker {
		return fmt.Errorf("code %s: invalid severity %q", r.Code, r.Severity)
	}
	if err := r.Requires.validate(); err != nil {
		return fmt.Errorf("code %s: %w", r.Code, err)
	}
	return nil
}
