package models

import (
	"fmt"
)

type ChainType string

const (
	ChainTypeInvoice         ChainType = "invoice"
	ChainTypeCashPayment     ChainType = "cash_payment"
	ChainTypeBankTransaction ChainType = "bank_transaction"
	ChainTypeReconciliation  ChainType = "reconciliation"
	ChainTypeContract        ChainType = "contract"
	ChainTypeDecision        ChainType = "decision"
)

// AllChainTypes lists every chain type in a stable order.
var AllChainTypes = []ChainType{
	ChainTypeInvoice,
	ChainTypeCashPayment,
	ChainTypeBankTransaction,
	ChainTypeReconciliation,
	ChainTypeContract,
	ChainTypeDecision,
}

func (t ChainType) IsValid() bool {
	switch t {
	case ChainTypeInvoice, ChainTypeCashPayment, ChainTypeBankTransaction,
		ChainTypeReconciliation, ChainTypeContract, ChainTypeDecision:
		return true
	}
	return false
}

func (t *ChainType) UnmarshalText(b []byte) error {
	v := ChainType(b)
	if !v.IsValid() {
		return fmt.Errorf("invalid chain type %q", string(b))
	}
	*t = v
	return nil
}

// ChainState values are persisted as text and filtered on by collaborators;
// the strings must not change.
type ChainState string

const (
	ChainStateDraft     ChainState = "draft"
	ChainStateIssued    ChainState = "issued"
	ChainStatePaid      ChainState = "paid"
	ChainStatePosted    ChainState = "posted"
	ChainStateClosed    ChainState = "closed"
	ChainStateCancelled ChainState = "cancelled"
)

func (s ChainState) IsValid() bool {
	switch s {
	case ChainStateDraft, ChainStateIssued, ChainStatePaid,
		ChainStatePosted, ChainStateClosed, ChainStateCancelled:
		return true
	}
	return false
}

func (s *ChainState) UnmarshalText(b []byte) error {
	v := ChainState(b)
	if !v.IsValid() {
		return fmt.Errorf("invalid chain state %q", string(b))
	}
	*s = v
	return nil
}

type ObjectRole string

const (
	ObjectRolePrimary    ObjectRole = "primary"
	ObjectRoleSettlement ObjectRole = "settlement"
	ObjectRoleEvidence   ObjectRole = "evidence"
	ObjectRoleRelated    ObjectRole = "related"
	ObjectRoleCorrection ObjectRole = "correction"
)

func (r ObjectRole) IsValid() bool {
	switch r {
	case ObjectRolePrimary, ObjectRoleSettlement, ObjectRoleEvidence,
		ObjectRoleRelated, ObjectRoleCorrection:
		return true
	}
	return false
}

func (r *ObjectRole) UnmarshalText(b []byte) error {
	v := ObjectRole(b)
	if !v.IsValid() {
		return fmt.Errorf("invalid object role %q", string(b))
	}
	*r = v
	return nil
}

// ObjectType is the closed set of business records a chain may reference.
type ObjectType string

const (
	ObjectTypeInvoice         ObjectType = "invoice"
	ObjectTypeCashPayment     ObjectType = "cash_payment"
	ObjectTypeBankTransaction ObjectType = "bank_transaction"
	ObjectTypeReconciliation  ObjectType = "reconciliation"
	ObjectTypeContract        ObjectType = "contract"
	ObjectTypeDecision        ObjectType = "decision"
	ObjectTypePayment         ObjectType = "payment"
	ObjectTypeEvidenceFile    ObjectType = "evidence_file"
	ObjectTypeKsefReference   ObjectType = "ksef_reference"
	ObjectTypeCorrectionNote  ObjectType = "correction_note"
	ObjectTypeAccountingEntry ObjectType = "accounting_entry"
)

func (t ObjectType) IsValid() bool {
	switch t {
	case ObjectTypeInvoice, ObjectTypeCashPayment, ObjectTypeBankTransaction,
		ObjectTypeReconciliation, ObjectTypeContract, ObjectTypeDecision,
		ObjectTypePayment, ObjectTypeEvidenceFile, ObjectTypeKsefReference,
		ObjectTypeCorrectionNote, ObjectTypeAccountingEntry:
		return true
	}
	return false
}

func (t *ObjectType) UnmarshalText(b []byte) error {
	v := ObjectType(b)
	if !v.IsValid() {
		return fmt.Errorf("invalid object type %q", string(b))
	}
	*t = v
	return nil
}

type ChainLinkType string

const (
	ChainLinkTypeSettles    ChainLinkType = "settles"
	ChainLinkTypeCorrects   ChainLinkType = "corrects"
	ChainLinkTypeReferences ChainLinkType = "references"
	ChainLinkTypeDependsOn  ChainLinkType = "depends_on"
	ChainLinkTypeSupports   ChainLinkType = "supports"
)

func (t ChainLinkType) IsValid() bool {
	switch t {
	case ChainLinkTypeSettles, ChainLinkTypeCorrects, ChainLinkTypeReferences,
		ChainLinkTypeDependsOn, ChainLinkTypeSupports:
		return true
	}
	return false
}

func (t *ChainLinkType) UnmarshalText(b []byte) error {
	v := ChainLinkType(b)
	if !v.IsValid() {
		return fmt.Errorf("invalid chain link type %q", string(b))
	}
	*t = v
	return nil
}

type ChainEventType string

const (
	ChainEventChainCreated      ChainEventType = "chain_created"
	ChainEventStateChanged      ChainEventType = "state_changed"
	ChainEventChainReopened     ChainEventType = "chain_reopened"
	ChainEventObjectAdded       ChainEventType = "object_added"
	ChainEventLinkCreated       ChainEventType = "link_created"
	ChainEventLinkReceived      ChainEventType = "link_received"
	ChainEventVersionCreated    ChainEventType = "version_created"
	ChainEventAmountChanged     ChainEventType = "amount_changed"
	ChainEventVerified          ChainEventType = "verified"
	ChainEventComplianceChanged ChainEventType = "compliance_changed"

	ChainEventDocumentCreated      ChainEventType = "document_created"
	ChainEventDocumentAmended      ChainEventType = "document_amended"
	ChainEventDocumentPosted       ChainEventType = "document_posted"
	ChainEventDocumentAttached     ChainEventType = "document_attached"
	ChainEventDocumentLinked       ChainEventType = "document_linked"
	ChainEventDocumentStateChanged ChainEventType = "document_state_changed"
)

type EventDirection string

const (
	EventDirectionIn  EventDirection = "in"
	EventDirectionOut EventDirection = "out"
)
