package queries

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/mmdatafocus/eventchain/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	profileA = "profile-a"
	profileB = "profile-b"
)

type fixture struct {
	engine  *workflow.Engine
	service *Service
}

// newFixture advances the engine clock by one minute per transaction so ordering by
// time is deterministic.
func newFixture(t *testing.T) *fixture {
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

	engine := workflow.NewEngine(db, logger, nil)
	var mu sync.Mutex
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	engine.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}
	return &fixture{engine: engine, service: NewService(db, logger)}
}

func ctxFor(profileId string) context.Context {
	ctx := utils.SetBusinessProfileIdInContext(context.Background(), profileId)
	return utils.SetUserIdInContext(ctx, "user-1")
}

func (f *fixture) create(t *testing.T, profileId string, chainType models.ChainType, objectId string, total int64) *models.Chain {
	t.Helper()
	chain, _, err := f.engine.CreateChain(ctxFor(profileId), models.NewChain{
		ChainType:       chainType,
		PrimaryObjectId: objectId,
		Title:           string(chainType) + " " + objectId,
		TotalAmount:     decimal.NewFromInt(total),
		Currency:        "PLN",
	})
	require.NoError(t, err)
	return chain
}

func requireKind(t *testing.T, err error, kind models.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, models.KindOf(err), err.Error())
}
