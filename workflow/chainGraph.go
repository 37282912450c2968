package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AddObjectToChain appends an attachment. Attachments are not deduplicated; only a second
// primary object is rejected.
func (e *Engine) AddObjectToChain(ctx context.Context, input models.NewChainObject) (obj *models.ChainObject, err error) {
	err = e.run(ctx, "AddObjectToChain", func(s *txScope) error {
		obj, err = e.addObjectToChain(s, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (e *Engine) addObjectToChain(s *txScope, input models.NewChainObject) (*models.ChainObject, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if !input.ObjectType.IsValid() {
		return nil, validationError(map[string]string{"object_type": "oneof"}, "unknown object type %q", input.ObjectType)
	}
	if !input.Role.IsValid() {
		return nil, validationError(map[string]string{"role": "oneof"}, "unknown object role %q", input.Role)
	}
	chain, err := s.loadChain(input.ChainId, true)
	if err != nil {
		return nil, err
	}
	if input.Role == models.ObjectRolePrimary {
		return nil, models.NewEngineError(models.ErrKindDuplicatePrimaryObject, chain.ID,
			"chain already has primary object %s/%s", chain.PrimaryObjectType, chain.PrimaryObjectId)
	}

	obj := &models.ChainObject{
		BusinessProfileId: s.profileId,
		ChainId:           chain.ID,
		ObjectType:        input.ObjectType,
		ObjectId:          input.ObjectId,
		ObjectVersionId:   input.ObjectVersionId,
		Role:              input.Role,
		LinkType:          input.LinkType,
		Metadata:          jsonMap(input.Metadata),
		CreatedBy:         s.actorId,
		CreatedAt:         s.now,
	}
	if err := s.tx.Create(obj).Error; err != nil {
		return nil, err
	}
	if err := s.updateChain(chain, map[string]any{}); err != nil {
		return nil, err
	}

	meta := datatypes.JSONMap{
		"object_type": string(obj.ObjectType),
		"object_id":   obj.ObjectId,
		"role":        string(obj.Role),
	}
	if obj.LinkType != nil {
		meta["link_type"] = *obj.LinkType
	}
	ev := &models.ChainEvent{
		ChainId:   chain.ID,
		EventType: models.ChainEventObjectAdded,
		Metadata:  meta,
	}
	if err := e.appendEvent(s, ev); err != nil {
		return nil, err
	}
	if err := e.refreshCompliance(s, chain, &ev.ID); err != nil {
		return nil, err
	}
	return obj, nil
}

// LinkChains creates a directed edge. Settles links with an amount are checked against the
// target's total inside the target's row lock, and the target's paid/remaining amounts are
// recomputed from all of its incoming settles links.
func (e *Engine) LinkChains(ctx context.Context, input models.NewChainLink) (link *models.ChainLink, err error) {
	err = e.run(ctx, "LinkChains", func(s *txScope) error {
		link, err = e.linkChains(s, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (e *Engine) linkChains(s *txScope, input models.NewChainLink) (*models.ChainLink, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if !input.LinkType.IsValid() {
		return nil, validationError(map[string]string{"link_type": "oneof"}, "unknown link type %q", input.LinkType)
	}
	if input.FromChainId == input.ToChainId {
		return nil, validationError(map[string]string{"to_chain_id": "nefield"}, "a chain cannot be linked to itself")
	}

	// Lock in id order so two opposite links cannot deadlock.
	firstId, secondId := input.FromChainId, input.ToChainId
	if secondId < firstId {
		firstId, secondId = secondId, firstId
	}
	first, err := s.loadChain(firstId, true)
	if err != nil {
		return nil, err
	}
	second, err := s.loadChain(secondId, true)
	if err != nil {
		return nil, err
	}
	from, to := first, second
	if from.ID != input.FromChainId {
		from, to = second, first
	}

	var currency *string
	if input.Currency != nil && *input.Currency != "" {
		c := strings.ToUpper(*input.Currency)
		currency = &c
		if to.Currency != "" && input.LinkType == models.ChainLinkTypeSettles && c != to.Currency {
			return nil, validationError(map[string]string{"currency": "eqfield"},
				"link currency %s does not match target chain currency %s", c, to.Currency)
		}
	}

	settles := input.LinkType == models.ChainLinkTypeSettles && input.Amount.Valid
	var settled decimal.Decimal
	if settles {
		links, err := s.incomingSettles(to.ID)
		if err != nil {
			return nil, err
		}
		settled = models.SettledSum(links, to.ID).Add(input.Amount.Decimal)
		if settled.GreaterThan(to.TotalAmount.Add(models.SettlementEpsilon)) {
			return nil, models.NewEngineError(models.ErrKindOverSettlement, to.ID,
				"settling %s would bring the settled total to %s, above the chain total %s",
				input.Amount.Decimal.String(), settled.String(), to.TotalAmount.String())
		}
		if settled.IsNegative() {
			return nil, validationError(map[string]string{"amount": "gte"},
				"reversal of %s exceeds the settled amount", input.Amount.Decimal.Neg().String())
		}
	}

	link := &models.ChainLink{
		BusinessProfileId: s.profileId,
		FromChainId:       from.ID,
		ToChainId:         to.ID,
		LinkType:          input.LinkType,
		Amount:            input.Amount,
		Currency:          currency,
		Metadata:          jsonMap(input.Metadata),
		CreatedBy:         s.actorId,
		CreatedAt:         s.now,
	}
	if err := s.tx.Create(link).Error; err != nil {
		return nil, err
	}

	linkMeta := func(other *models.Chain) datatypes.JSONMap {
		return datatypes.JSONMap{
			"link_id":            link.ID,
			"link_type":          string(link.LinkType),
			"other_chain_id":     other.ID,
			"other_chain_number": other.ChainNumber,
		}
	}
	created := &models.ChainEvent{
		ChainId:   from.ID,
		EventType: models.ChainEventLinkCreated,
		Amount:    link.Amount,
		Currency:  currency,
		Direction: directionPtr(models.EventDirectionOut),
		Metadata:  linkMeta(to),
	}
	if err := e.appendEvent(s, created); err != nil {
		return nil, err
	}
	received := &models.ChainEvent{
		ChainId:          to.ID,
		EventType:        models.ChainEventLinkReceived,
		CausationEventId: &created.ID,
		Amount:           link.Amount,
		Currency:         currency,
		Direction:        directionPtr(models.EventDirectionIn),
		Metadata:         linkMeta(from),
	}
	if err := e.appendEvent(s, received); err != nil {
		return nil, err
	}

	toValues := map[string]any{}
	if settles {
		to.PaidAmount = settled
		to.RemainingAmount = to.TotalAmount.Sub(settled)
		toValues["paid_amount"] = to.PaidAmount
		toValues["remaining_amount"] = to.RemainingAmount
	}
	if err := s.updateChain(to, toValues); err != nil {
		return nil, err
	}
	if err := s.updateChain(from, map[string]any{}); err != nil {
		return nil, err
	}
	if err := e.refreshCompliance(s, from, &created.ID); err != nil {
		return nil, err
	}
	if err := e.refreshCompliance(s, to, &received.ID); err != nil {
		return nil, err
	}
	return link, nil
}

// GetChainObjects lists a chain's attachments in attachment order.
func (e *Engine) GetChainObjects(ctx context.Context, chainId string) (objects []*models.ChainObject, err error) {
	err = e.run(ctx, "GetChainObjects", func(s *txScope) error {
		if _, err := s.loadChain(chainId, false); err != nil {
			return err
		}
		return s.tx.Where("business_profile_id = ? AND chain_id = ?", s.profileId, chainId).
			Order("id ASC").Find(&objects).Error
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// GetChainLinks returns edges in both directions; callers read direction from the ids.
func (e *Engine) GetChainLinks(ctx context.Context, chainId string) (links []*models.ChainLink, err error) {
	err = e.run(ctx, "GetChainLinks", func(s *txScope) error {
		if _, err := s.loadChain(chainId, false); err != nil {
			return err
		}
		return s.tx.Where("business_profile_id = ? AND (from_chain_id = ? OR to_chain_id = ?)", s.profileId, chainId, chainId).
			Order("id ASC").Find(&links).Error
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}
