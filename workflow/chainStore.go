package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateChain returns the chain rooted on the input's primary object, creating it with its
// primary ChainObject when none exists yet. created reports which of the two happened.
func (e *Engine) CreateChain(ctx context.Context, input models.NewChain) (chain *models.Chain, created bool, err error) {
	err = e.run(ctx, "CreateChain", func(s *txScope) error {
		chain, created, err = e.createChain(s, input)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return chain, created, nil
}

func (e *Engine) createChain(s *txScope, input models.NewChain) (*models.Chain, bool, error) {
	if err := validateInput(input); err != nil {
		return nil, false, err
	}
	if !input.ChainType.IsValid() {
		return nil, false, validationError(map[string]string{"chain_type": "oneof"}, "unknown chain type %q", input.ChainType)
	}
	primaryType := models.PrimaryObjectType(input.ChainType)
	if input.PrimaryObjectType != "" && input.PrimaryObjectType != primaryType {
		return nil, false, validationError(map[string]string{"primary_object_type": "eqfield"},
			"a %s chain must be rooted on a %s object", input.ChainType, primaryType)
	}
	state := input.InitialState
	if state == "" {
		state = models.InitialState(input.ChainType)
	}
	if !models.IsValidState(input.ChainType, state) {
		return nil, false, models.NewEngineError(models.ErrKindInvalidTransition, "",
			"state %q is not valid for a %s chain", state, input.ChainType)
	}
	if input.TotalAmount.IsNegative() {
		return nil, false, validationError(map[string]string{"total_amount": "gte"}, "total amount must not be negative")
	}

	// The series lock serializes creation per (profile, chain type); the locking re-read
	// then sees any chain committed by a racing creator.
	series, err := models.LockChainNumberSeries(s.tx, s.profileId, input.ChainType)
	if err != nil {
		return nil, false, err
	}
	existing, err := models.FindChainByPrimary(s.tx, primaryType, input.PrimaryObjectId, true)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if err := s.checkOwner(existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	next := series.LastValue + 1
	chain := &models.Chain{
		ID:                     uuid.NewString(),
		BusinessProfileId:      s.profileId,
		ChainType:              input.ChainType,
		ChainNumber:            models.FormatChainNumber(e.prefixFor(input.ChainType), next),
		PrimaryObjectType:      primaryType,
		PrimaryObjectId:        input.PrimaryObjectId,
		PrimaryObjectVersionId: input.PrimaryObjectVersionId,
		State:                  state,
		StateUpdatedAt:         s.now,
		RequiresVerification:   input.RequiresVerification,
		RequiredActions:        datatypes.JSONSlice[string]{},
		Blockers:               datatypes.JSONSlice[string]{},
		TotalAmount:            input.TotalAmount,
		PaidAmount:             decimal.Zero,
		RemainingAmount:        input.TotalAmount,
		Currency:               strings.ToUpper(input.Currency),
		Title:                  input.Title,
		Description:            input.Description,
		Metadata:               jsonMap(input.Metadata),
		CreatedAt:              s.now,
		UpdatedAt:              s.now,
	}
	if state == models.ChainStateClosed {
		chain.ClosedAt = &s.now
	}
	chain.NeedsAttention = chain.ComputeNeedsAttention()

	res := s.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(chain)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost to a creator outside the series lock (another profile claiming the same object).
		existing, err := models.FindChainByPrimary(s.tx, primaryType, input.PrimaryObjectId, true)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, models.NewEngineError(models.ErrKindConcurrencyConflict, "", "chain insert was ignored but no chain exists")
		}
		if err := s.checkOwner(existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err := series.Advance(s.tx); err != nil {
		return nil, false, err
	}

	primary := &models.ChainObject{
		BusinessProfileId: s.profileId,
		ChainId:           chain.ID,
		ObjectType:        primaryType,
		ObjectId:          input.PrimaryObjectId,
		ObjectVersionId:   input.PrimaryObjectVersionId,
		Role:              models.ObjectRolePrimary,
		PrimaryOfChainId:  &chain.ID,
		CreatedBy:         s.actorId,
		CreatedAt:         s.now,
	}
	if err := s.tx.Create(primary).Error; err != nil {
		return nil, false, err
	}

	ev := &models.ChainEvent{
		ChainId:   chain.ID,
		EventType: models.ChainEventChainCreated,
		ToState:   statePtr(state),
		Amount:    decimal.NewNullDecimal(chain.TotalAmount),
		Metadata: datatypes.JSONMap{
			"chain_number":        chain.ChainNumber,
			"primary_object_type": string(primaryType),
			"primary_object_id":   input.PrimaryObjectId,
		},
	}
	if chain.Currency != "" {
		ev.Currency = &chain.Currency
	}
	if err := e.appendEvent(s, ev); err != nil {
		return nil, false, err
	}
	if err := e.refreshCompliance(s, chain, &ev.ID); err != nil {
		return nil, false, err
	}
	return chain, true, nil
}

func (e *Engine) prefixFor(t models.ChainType) string {
	if p, ok := e.Prefixes[t]; ok {
		return p
	}
	return models.DefaultChainNumberPrefixes[t]
}

// GetChain reads one chain of the caller's profile.
func (e *Engine) GetChain(ctx context.Context, chainId string) (chain *models.Chain, err error) {
	err = e.run(ctx, "GetChain", func(s *txScope) error {
		chain, err = s.loadChain(chainId, false)
		return err
	})
	return chain, err
}

// TransitionState moves a chain to newState. Any member of the type's state set is
// accepted, backward moves included; closed chains accept nothing until reopened.
func (e *Engine) TransitionState(ctx context.Context, chainId string, newState models.ChainState, metadata map[string]any) (chain *models.Chain, err error) {
	err = e.run(ctx, "TransitionState", func(s *txScope) error {
		chain, err = e.transitionState(s, chainId, newState, metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (e *Engine) transitionState(s *txScope, chainId string, newState models.ChainState, metadata map[string]any) (*models.Chain, error) {
	chain, err := s.loadChain(chainId, true)
	if err != nil {
		return nil, err
	}
	if chain.IsClosed() {
		return nil, models.NewEngineError(models.ErrKindInvalidTransition, chain.ID, "chain is closed; reopen it first")
	}
	if !models.IsValidState(chain.ChainType, newState) {
		return nil, models.NewEngineError(models.ErrKindInvalidTransition, chain.ID,
			"state %q is not valid for a %s chain", newState, chain.ChainType)
	}
	if newState == chain.State {
		return chain, nil
	}

	from := chain.State
	chain.State = newState
	chain.StateUpdatedAt = s.now
	values := map[string]any{"state": newState, "state_updated_at": s.now}
	if newState == models.ChainStateClosed {
		chain.ClosedAt = &s.now
		values["closed_at"] = s.now
	}
	if err := s.updateChain(chain, values); err != nil {
		return nil, err
	}

	ev := &models.ChainEvent{
		ChainId:   chain.ID,
		EventType: models.ChainEventStateChanged,
		FromState: statePtr(from),
		ToState:   statePtr(newState),
		Changes:   datatypes.JSONMap{"state": map[string]any{"from": from, "to": newState}},
		Metadata:  jsonMap(metadata),
	}
	if err := e.appendEvent(s, ev); err != nil {
		return nil, err
	}
	if err := e.refreshCompliance(s, chain, &ev.ID); err != nil {
		return nil, err
	}
	return chain, nil
}

// ReopenChain clears closed_at and moves the chain to toState, or when toState is empty to
// the state it was closed from.
func (e *Engine) ReopenChain(ctx context.Context, chainId string, toState models.ChainState, reason string) (chain *models.Chain, err error) {
	err = e.run(ctx, "ReopenChain", func(s *txScope) error {
		chain, err = e.reopenChain(s, chainId, toState, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (e *Engine) reopenChain(s *txScope, chainId string, toState models.ChainState, reason string) (*models.Chain, error) {
	chain, err := s.loadChain(chainId, true)
	if err != nil {
		return nil, err
	}
	if !chain.IsClosed() {
		return nil, models.NewEngineError(models.ErrKindInvalidTransition, chain.ID, "only a closed chain can be reopened")
	}
	if toState == "" {
		toState, err = s.closedFrom(chain)
		if err != nil {
			return nil, err
		}
	}
	if toState == models.ChainStateClosed || !models.IsValidState(chain.ChainType, toState) {
		return nil, models.NewEngineError(models.ErrKindInvalidTransition, chain.ID,
			"cannot reopen a %s chain into state %q", chain.ChainType, toState)
	}

	from := chain.State
	chain.State = toState
	chain.StateUpdatedAt = s.now
	chain.ClosedAt = nil
	if err := s.updateChain(chain, map[string]any{
		"state":            toState,
		"state_updated_at": s.now,
		"closed_at":        nil,
	}); err != nil {
		return nil, err
	}

	ev := &models.ChainEvent{
		ChainId:   chain.ID,
		EventType: models.ChainEventChainReopened,
		FromState: statePtr(from),
		ToState:   statePtr(toState),
		Changes:   datatypes.JSONMap{"state": map[string]any{"from": from, "to": toState}},
	}
	if reason != "" {
		ev.Metadata = datatypes.JSONMap{"reason": reason}
	}
	if err := e.appendEvent(s, ev); err != nil {
		return nil, err
	}
	if err := e.refreshCompliance(s, chain, &ev.ID); err != nil {
		return nil, err
	}
	return chain, nil
}

// closedFrom finds the state recorded by the transition that closed the chain.
func (s *txScope) closedFrom(chain *models.Chain) (models.ChainState, error) {
	var ev models.ChainEvent
	err := s.tx.Where("chain_id = ? AND event_type = ? AND to_state = ?", chain.ID, models.ChainEventStateChanged, models.ChainStateClosed).
		Order("id DESC").
		Take(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && ev.FromState == nil) {
		return models.StateBeforeClose(chain.ChainType), nil
	}
	if err != nil {
		return "", err
	}
	return *ev.FromState, nil
}

// VerifyChain stamps verified_at/verified_by with the acting user. Verifying twice is a no-op.
func (e *Engine) VerifyChain(ctx context.Context, chainId string) (chain *models.Chain, err error) {
	err = e.run(ctx, "VerifyChain", func(s *txScope) error {
		chain, err = e.verifyChain(s, chainId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (e *Engine) verifyChain(s *txScope, chainId string) (*models.Chain, error) {
	chain, err := s.loadChain(chainId, true)
	if err != nil {
		return nil, err
	}
	if chain.VerifiedAt != nil {
		return chain, nil
	}
	chain.VerifiedAt = &s.now
	chain.VerifiedBy = &s.actorId
	chain.NeedsAttention = chain.ComputeNeedsAttention()
	if err := s.updateChain(chain, map[string]any{
		"verified_at":     s.now,
		"verified_by":     s.actorId,
		"needs_attention": chain.NeedsAttention,
	}); err != nil {
		return nil, err
	}
	ev := &models.ChainEvent{
		ChainId:   chain.ID,
		EventType: models.ChainEventVerified,
		Metadata:  datatypes.JSONMap{"verified_by": s.actorId},
	}
	if err := e.appendEvent(s, ev); err != nil {
		return nil, err
	}
	if err := e.refreshCompliance(s, chain, &ev.ID); err != nil {
		return nil, err
	}
	return chain, nil
}

// UpdateChainAmount replaces total_amount and recomputes paid/remaining from the incoming
// settles links. A total below what is already settled fails with OverSettlement.
func (e *Engine) UpdateChainAmount(ctx context.Context, chainId string, total decimal.Decimal, currency string) (chain *models.Chain, err error) {
	err = e.run(ctx, "UpdateChainAmount", func(s *txScope) error {
		chain, err = e.updateChainAmount(s, chainId, total, currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (e *Engine) updateChainAmount(s *txScope, chainId string, total decimal.Decimal, currency string) (*models.Chain, error) {
	if total.IsNegative() {
		return nil, validationError(map[string]string{"total_amount": "gte"}, "total amount must not be negative")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency != "" && len(currency) != 3 {
		return nil, validationError(map[string]string{"currency": "len"}, "currency must be a 3-letter code")
	}
	chain, err := s.loadChain(chainId, true)
	if err != nil {
		return nil, err
	}
	if chain.IsClosed() {
		return nil, models.NewEngineError(models.ErrKindInvalidTransition, chain.ID, "chain is closed; reopen it first")
	}
	links, err := s.incomingSettles(chain.ID)
	if err != nil {
		return nil, err
	}
	settled := models.SettledSum(links, chain.ID)
	if settled.GreaterThan(total.Add(models.SettlementEpsilon)) {
		return nil, models.NewEngineError(models.ErrKindOverSettlement, chain.ID,
			"total %s is below the settled amount %s", total.String(), settled.String())
	}
	if total.Equal(chain.TotalAmount) && (currency == "" || currency == chain.Currency) {
		return chain, nil
	}

	prevTotal, prevCurrency := chain.TotalAmount, chain.Currency
	chain.TotalAmount = total
	if currency != "" {
		chain.Currency = currency
	}
	chain.PaidAmount = settled
	chain.RemainingAmount = total.Sub(settled)
	if err := s.updateChain(chain, map[string]any{
		"total_amount":     chain.TotalAmount,
		"paid_amount":      chain.PaidAmount,
		"remaining_amount": chain.RemainingAmount,
		"currency":         chain.Currency,
	}); err != nil {
		return nil, err
	}

	ev := &models.ChainEvent{
		ChainId:   chain.ID,
		EventType: models.ChainEventAmountChanged,
		Amount:    decimal.NewNullDecimal(total),
		Changes: datatypes.JSONMap{
			"total_amount": map[string]any{"from": prevTotal.String(), "to": total.String()},
		},
	}
	if chain.Currency != "" {
		ev.Currency = &chain.Currency
	}
	if prevCurrency != chain.Currency {
		ev.Changes["currency"] = map[string]any{"from": prevCurrency, "to": chain.Currency}
	}
	if err := e.appendEvent(s, ev); err != nil {
		return nil, err
	}
	if err := e.refreshCompliance(s, chain, &ev.ID); err != nil {
		return nil, err
	}
	return chain, nil
}

// RecomputeCompliance re-derives required actions and blockers, e.g. after a collaborator
// amended a document in a compliance-relevant way.
func (e *Engine) RecomputeCompliance(ctx context.Context, chainId string) (chain *models.Chain, err error) {
	err = e.run(ctx, "RecomputeCompliance", func(s *txScope) error {
		chain, err = s.loadChain(chainId, true)
		if err != nil {
			return err
		}
		return e.refreshCompliance(s, chain, nil)
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}
