package models

import "slices"

// chainStates is the authoritative chain type -> state set table, in typical
// progression order. Collaborators rely on these exact sets.
var chainStates = map[ChainType][]ChainState{
	ChainTypeInvoice:         {ChainStateDraft, ChainStateIssued, ChainStatePaid, ChainStatePosted, ChainStateClosed},
	ChainTypeCashPayment:     {ChainStateDraft, ChainStatePosted, ChainStateClosed},
	ChainTypeBankTransaction: {ChainStateDraft, ChainStatePosted, ChainStateClosed},
	ChainTypeReconciliation:  {ChainStateDraft, ChainStatePosted, ChainStateClosed},
	ChainTypeContract:        {ChainStateDraft, ChainStateIssued, ChainStateClosed, ChainStateCancelled},
	ChainTypeDecision:        {ChainStateDraft, ChainStateIssued, ChainStateClosed, ChainStateCancelled},
}

// StatesFor returns a copy of the state set for t, nil for an unknown type.
func StatesFor(t ChainType) []ChainState {
	return slices.Clone(chainStates[t])
}

func IsValidState(t ChainType, s ChainState) bool {
	return slices.Contains(chainStates[t], s)
}

// InitialState is the first state of the type's progression.
func InitialState(t ChainType) ChainState {
	states := chainStates[t]
	if len(states) == 0 {
		return ""
	}
	return states[0]
}

// StateBeforeClose is the state that precedes closed in the progression; used as the
// reopen target when no closing event can be found.
func StateBeforeClose(t ChainType) ChainState {
	states := chainStates[t]
	i := slices.Index(states, ChainStateClosed)
	if i <= 0 {
		return InitialState(t)
	}
	return states[i-1]
}

// PrimaryObjectType is the only object type a chain of type t may be rooted on.
func PrimaryObjectType(t ChainType) ObjectType {
	switch t {
	case ChainTypeInvoice:
		return ObjectTypeInvoice
	case ChainTypeCashPayment:
		return ObjectTypeCashPayment
	case ChainTypeBankTransaction:
		return ObjectTypeBankTransaction
	case ChainTypeReconciliation:
		return ObjectTypeReconciliation
	case ChainTypeContract:
		return ObjectTypeContract
	case ChainTypeDecision:
		return ObjectTypeDecision
	}
	return ""
}

// ChainTypeForObject is the inverse of PrimaryObjectType.
func ChainTypeForObject(o ObjectType) (ChainType, bool) {
	for _, t := range AllChainTypes {
		if PrimaryObjectType(t) == o {
			return t, true
		}
	}
	return "", false
}
