package workflow

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	profileA = "profile-a"
	profileB = "profile-b"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "chains.db"))
	require.NoError(t, err)
	require.NoError(t, models.MigrateTable(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewEngine(db, logger, nil)
}

func ctxFor(profileId string) context.Context {
	ctx := utils.SetBusinessProfileIdInContext(context.Background(), profileId)
	ctx = utils.SetUserIdInContext(ctx, "user-1")
	return utils.SetUserNameInContext(ctx, "Anna Nowak")
}

func mustCreate(t *testing.T, e *Engine, ctx context.Context, chainType models.ChainType, objectId string, total int64) *models.Chain {
	t.Helper()
	chain, _, err := e.CreateChain(ctx, models.NewChain{
		ChainType:       chainType,
		PrimaryObjectId: objectId,
		Title:           string(chainType) + " " + objectId,
		TotalAmount:     decimal.NewFromInt(total),
		Currency:        "PLN",
	})
	require.NoError(t, err)
	return chain
}

func reload(t *testing.T, db *gorm.DB, chainId string) *models.Chain {
	t.Helper()
	var chain models.Chain
	require.NoError(t, db.Where("id = ?", chainId).Take(&chain).Error)
	return &chain
}

func eventsOf(t *testing.T, db *gorm.DB, chainId string) []models.ChainEvent {
	t.Helper()
	var events []models.ChainEvent
	require.NoError(t, db.Where("chain_id = ?", chainId).Order("id ASC").Find(&events).Error)
	return events
}

func eventTypes(events []models.ChainEvent) []models.ChainEventType {
	out := make([]models.ChainEventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func requireKind(t *testing.T, err error, kind models.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, models.KindOf(err), err.Error())
}
