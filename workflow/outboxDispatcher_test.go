package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []config.ChainEventMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg config.ChainEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, msg)
	return fmt.Sprintf("msg-%d", len(p.sent)), nil
}

func outboxRows(t *testing.T, e *Engine) []models.ChainEventOutbox {
	t.Helper()
	var rows []models.ChainEventOutbox
	require.NoError(t, e.DB.Order("id ASC").Find(&rows).Error)
	return rows
}

func TestEventsAreWrittenToOutbox(t *testing.T) {
	e := newTestEngine(t)
	e.PublishEvents = true
	chain := mustCreate(t, e, ctxFor(profileA), models.ChainTypeDecision, "dec-1", 0)

	events := eventsOf(t, e.DB, chain.ID)
	rows := outboxRows(t, e)
	require.Len(t, rows, len(events))
	for i, row := range rows {
		assert.Equal(t, events[i].ID, row.ChainEventId)
		assert.Equal(t, chain.ID, row.ChainId)
		assert.Equal(t, models.OutboxPublishStatusPending, row.PublishStatus)
	}
}

func TestDispatchOnceMarksSent(t *testing.T) {
	e := newTestEngine(t)
	e.PublishEvents = true
	chain := mustCreate(t, e, ctxFor(profileA), models.ChainTypeDecision, "dec-1", 0)
	pending := len(outboxRows(t, e))

	pub := &fakePublisher{}
	d := NewOutboxDispatcher(e.DB, e.Logger, pub)
	assert.Equal(t, pending, d.DispatchOnce(context.Background()))
	require.Len(t, pub.sent, pending)
	assert.Equal(t, chain.ID, pub.sent[0].ChainId)
	assert.Equal(t, profileA, pub.sent[0].BusinessProfileId)
	assert.Equal(t, string(models.ChainEventChainCreated), pub.sent[0].EventType)

	for _, row := range outboxRows(t, e) {
		assert.Equal(t, models.OutboxPublishStatusSent, row.PublishStatus)
		assert.NotNil(t, row.PublishedAt)
		require.NotNil(t, row.PubSubMessageId)
		assert.Nil(t, row.LockedBy)
	}
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
}

func TestDispatchOnceBacksOffAndGoesDead(t *testing.T) {
	e := newTestEngine(t)
	e.PublishEvents = true
	mustCreate(t, e, ctxFor(profileA), models.ChainTypeDecision, "dec-1", 0)

	pub := &fakePublisher{err: errors.New("topic unavailable")}
	d := NewOutboxDispatcher(e.DB, e.Logger, pub)
	d.MaxAttempts = 2
	d.InitialBackoff = time.Hour

	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
	for _, row := range outboxRows(t, e) {
		assert.Equal(t, models.OutboxPublishStatusFailed, row.PublishStatus)
		assert.Equal(t, 1, row.PublishAttempts)
		require.NotNil(t, row.NextAttemptAt)
		assert.True(t, row.NextAttemptAt.After(time.Now()))
		require.NotNil(t, row.LastPublishError)
		assert.Equal(t, "topic unavailable", *row.LastPublishError)
	}

	// not due yet
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
	assert.Equal(t, 1, outboxRows(t, e)[0].PublishAttempts)

	require.NoError(t, e.DB.Model(&models.ChainEventOutbox{}).Where("1 = 1").
		Update("next_attempt_at", time.Now().UTC().Add(-time.Minute)).Error)
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
	for _, row := range outboxRows(t, e) {
		assert.Equal(t, models.OutboxPublishStatusDead, row.PublishStatus)
		assert.Nil(t, row.NextAttemptAt)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	d := &OutboxDispatcher{InitialBackoff: 5 * time.Second}
	assert.Equal(t, 5*time.Second, d.backoff(1))
	assert.Equal(t, 20*time.Second, d.backoff(3))
	assert.Equal(t, 10*time.Minute, d.backoff(30))
}
