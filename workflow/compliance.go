package workflow

import (
	"slices"

	"github.com/mmdatafocus/eventchain/compliance"
	"github.com/mmdatafocus/eventchain/models"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// chainGraph loads what the compliance deriver looks at for one chain.
func (s *txScope) chainGraph(chain *models.Chain) (objects []*models.ChainObject, incoming, outgoing []*models.ChainLink, err error) {
	if err = s.tx.Where("business_profile_id = ? AND chain_id = ?", s.profileId, chain.ID).
		Order("id ASC").Find(&objects).Error; err != nil {
		return
	}
	if err = s.tx.Where("to_chain_id = ?", chain.ID).Order("id ASC").Find(&incoming).Error; err != nil {
		return
	}
	err = s.tx.Where("from_chain_id = ?", chain.ID).Order("id ASC").Find(&outgoing).Error
	return
}

// incomingSettles reads the incoming settles links of a chain with a locking read so
// the sum-then-insert sequence stays atomic per target chain.
func (s *txScope) incomingSettles(chainId string) ([]*models.ChainLink, error) {
	var links []*models.ChainLink
	err := s.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("to_chain_id = ? AND link_type = ?", chainId, models.ChainLinkTypeSettles).
		Order("id ASC").
		Find(&links).Error
	return links, err
}

// refreshCompliance recomputes required actions, blockers and needs_attention inside the
// caller's transaction. A compliance_changed event caused by cause is written when the
// codes change.
func (e *Engine) refreshCompliance(s *txScope, chain *models.Chain, cause *int) error {
	objects, incoming, outgoing, err := s.chainGraph(chain)
	if err != nil {
		return err
	}
	facts := map[string]bool{}
	if e.Facts != nil {
		facts, err = e.Facts.Facts(s.ctx, chain)
		if err != nil {
			return err
		}
	}
	res := e.Deriver.Derive(compliance.Input{
		Chain:    chain,
		Objects:  objects,
		Incoming: incoming,
		Outgoing: outgoing,
		Facts:    facts,
	})

	prevActions := []string(chain.RequiredActions)
	prevBlockers := []string(chain.Blockers)
	codesChanged := !slices.Equal(prevActions, res.RequiredActions) || !slices.Equal(prevBlockers, res.Blockers)

	chain.RequiredActions = datatypes.JSONSlice[string](res.RequiredActions)
	chain.Blockers = datatypes.JSONSlice[string](res.Blockers)
	needsAttention := chain.ComputeNeedsAttention()
	if !codesChanged && needsAttention == chain.NeedsAttention {
		return nil
	}
	chain.NeedsAttention = needsAttention
	if err := s.updateChain(chain, map[string]any{
		"required_actions": chain.RequiredActions,
		"blockers":         chain.Blockers,
		"needs_attention":  needsAttention,
	}); err != nil {
		return err
	}
	if !codesChanged {
		return nil
	}
	return e.appendEvent(s, &models.ChainEvent{
		ChainId:          chain.ID,
		EventType:        models.ChainEventComplianceChanged,
		CausationEventId: cause,
		Changes: datatypes.JSONMap{
			"required_actions": map[string]any{"from": nonNil(prevActions), "to": res.RequiredActions},
			"blockers":         map[string]any{"from": nonNil(prevBlockers), "to": res.Blockers},
		},
		Metadata: datatypes.JSONMap{"rule_set_version": e.Deriver.Version()},
	})
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
