package workflow

import (
	"encoding/json"
	"strconv"

	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"gorm.io/datatypes"
)

// appendEvent writes ev on behalf of the scope. A pending root event is materialized
// first on the same chain and becomes the cause of ev when ev has none.
func (e *Engine) appendEvent(s *txScope, ev *models.ChainEvent) error {
	if err := e.ensureRoot(s, ev.ChainId); err != nil {
		return err
	}
	if ev.CausationEventId == nil {
		ev.CausationEventId = s.causationId
	}
	return e.insertEvent(s, ev)
}

// ensureRoot writes the pending root event on chainId, if any.
func (e *Engine) ensureRoot(s *txScope, chainId string) error {
	if s.root == nil {
		return nil
	}
	root := s.root
	s.root = nil
	root.ChainId = chainId
	root.CausationEventId = s.causationId
	if err := e.insertEvent(s, root); err != nil {
		return err
	}
	s.causationId = &root.ID
	return nil
}

func (e *Engine) insertEvent(s *txScope, ev *models.ChainEvent) error {
	ev.BusinessProfileId = s.profileId
	if ev.ActorId == "" {
		ev.ActorId = s.actorId
		ev.ActorName = s.actorName
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now
	}
	ev.CorrelationId = s.correlationId
	if err := s.tx.Create(ev).Error; err != nil {
		return err
	}
	if !e.PublishEvents {
		return nil
	}
	return e.writeOutbox(s, ev)
}

func (e *Engine) writeOutbox(s *txScope, ev *models.ChainEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := config.ChainEventMessage{
		EventId:           strconv.Itoa(ev.ID),
		BusinessProfileId: ev.BusinessProfileId,
		ChainId:           ev.ChainId,
		EventType:         string(ev.EventType),
		OccurredAt:        ev.OccurredAt,
		CorrelationId:     ev.CorrelationId,
		Payload:           payload,
	}
	if ev.CausationEventId != nil {
		cause := strconv.Itoa(*ev.CausationEventId)
		msg.CausationEventId = &cause
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.tx.Create(&models.ChainEventOutbox{
		BusinessProfileId: ev.BusinessProfileId,
		ChainEventId:      ev.ID,
		ChainId:           ev.ChainId,
		EventType:         ev.EventType,
		Payload:           datatypes.JSON(data),
		CorrelationId:     ev.CorrelationId,
		PublishStatus:     models.OutboxPublishStatusPending,
	}).Error
}

func statePtr(s models.ChainState) *models.ChainState {
	return &s
}

func directionPtr(d models.EventDirection) *models.EventDirection {
	return &d
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	if len(m) == 0 {
		return nil
	}
	return datatypes.JSONMap(m)
}
