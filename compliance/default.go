package compliance

import "github.com/mmdatafocus/eventchain/models"

const DefaultRuleSetVersion = "2024.1"

var (
	hasKsefRef = Condition{Kind: CondAnyOf, AnyOf: []Condition{
		{Kind: CondObjectType, ObjectType: models.ObjectTypeKsefReference},
		{Kind: CondObjectMetadata, Key: "ksef_ref"},
		{Kind: CondFact, Fact: "has_ksef_ref"},
	}}
	hasEvidence     = Condition{Kind: CondObjectRole, Role: models.ObjectRoleEvidence}
	hasDebitAccount = Condition{Kind: CondChainMetadata, Key: "debit_account"}
	hasCreditAcct   = Condition{Kind: CondChainMetadata, Key: "credit_account"}
	hasAccounts     = Condition{Kind: CondAnyOf, AnyOf: []Condition{
		{Kind: CondFact, Fact: "accounts_set"},
		{Kind: CondChainMetadata, Key: "accounts_set"},
	}}
	isVerified  = Condition{Kind: CondVerified}
	isSettled   = Condition{Kind: CondFullySettled}
	isMatched   = Condition{Kind: CondOutgoingLink, LinkType: models.ChainLinkTypeSettles}
	hasOutgoing = Condition{Kind: CondOutgoingLink}
)

func blocker(code string, c Condition) Rule {
	return Rule{Code: code, Severity: SeverityBlocker, Requires: c}
}

func action(code string, c Condition) Rule {
	return Rule{Code: code, Severity: SeverityAction, Requires: c}
}

func accountBlockers() []Rule {
	return []Rule{
		blocker(BlockerMissingDebitAccount, hasDebitAccount),
		blocker(BlockerMissingCreditAccount, hasCreditAcct),
	}
}

// DefaultRuleSet returns a fresh copy of the built-in rule table.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Version: DefaultRuleSetVersion,
		Rules: map[models.ChainType]map[models.ChainState][]Rule{
			models.ChainTypeInvoice: {
				models.ChainStateDraft: {
					blocker(BlockerMissingKsefRef, hasKsefRef),
					action(ActionAddKsefRef, hasKsefRef),
					action(ActionVerifyAmount, isVerified),
				},
				models.ChainStateIssued: {
					blocker(BlockerMissingKsefRef, hasKsefRef),
					action(ActionAddKsefRef, hasKsefRef),
					action(ActionVerifyAmount, isVerified),
				},
				models.ChainStatePaid: {
					blocker(BlockerMissingKsefRef, hasKsefRef),
					blocker(BlockerInsufficientBalance, isSettled),
					action(ActionSetAccounts, hasAccounts),
				},
				models.ChainStatePosted: accountBlockers(),
				models.ChainStateClosed: {},
			},
			models.ChainTypeCashPayment: {
				models.ChainStateDraft: {
					blocker(BlockerMissingProof, hasEvidence),
					action(ActionAttachProof, hasEvidence),
					action(ActionApprovePayment, isVerified),
				},
				models.ChainStatePosted: append([]Rule{
					blocker(BlockerMissingProof, hasEvidence),
					action(ActionSetAccounts, hasAccounts),
				}, accountBlockers()...),
				models.ChainStateClosed: {},
			},
			models.ChainTypeBankTransaction: {
				models.ChainStateDraft: {
					blocker(BlockerUnmatchedTransaction, isMatched),
					action(ActionMatchTransaction, isMatched),
				},
				models.ChainStatePosted: append([]Rule{
					blocker(BlockerUnmatchedTransaction, isMatched),
				}, accountBlockers()...),
				models.ChainStateClosed: {},
			},
			models.ChainTypeReconciliation: {
				models.ChainStateDraft: {
					action(ActionVerifyAmount, isVerified),
				},
				models.ChainStatePosted: {
					blocker(BlockerUnmatchedTransaction, hasOutgoing),
				},
				models.ChainStateClosed: {},
			},
			models.ChainTypeContract: {
				models.ChainStateDraft: {
					action(ActionAttachProof, hasEvidence),
				},
				models.ChainStateIssued: {
					blocker(BlockerMissingProof, hasEvidence),
				},
				models.ChainStateClosed:    {},
				models.ChainStateCancelled: {},
			},
			models.ChainTypeDecision: {
				models.ChainStateDraft: {
					action(ActionAttachProof, hasEvidence),
				},
				models.ChainStateIssued:    {},
				models.ChainStateClosed:    {},
				models.ChainStateCancelled: {},
			},
		},
	}
}
