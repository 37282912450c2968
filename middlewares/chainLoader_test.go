package middlewares

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/mmdatafocus/eventchain/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openStore(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "chains.db"))
	require.NoError(t, err)
	require.NoError(t, models.MigrateTable(db))
	previous := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(previous)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedChain(t *testing.T, db *gorm.DB, profileId, objectId string) *models.Chain {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx := utils.SetBusinessProfileIdInContext(context.Background(), profileId)
	chain, _, err := workflow.NewEngine(db, logger, nil).CreateChain(ctx, models.NewChain{
		ChainType:       models.ChainTypeInvoice,
		PrimaryObjectId: objectId,
		TotalAmount:     decimal.NewFromInt(100),
		Currency:        "PLN",
	})
	require.NoError(t, err)
	return chain
}

func TestGetChainsWithoutLoadersReadsDirectly(t *testing.T) {
	db := openStore(t)
	own := seedChain(t, db, "profile-a", "inv-1")
	foreign := seedChain(t, db, "profile-b", "inv-9")

	_, ok := For(context.Background())
	assert.False(t, ok)

	ctx := utils.SetBusinessProfileIdInContext(context.Background(), "profile-a")
	var (
		chains []*models.Chain
		errs   []error
	)
	require.NotPanics(t, func() {
		chains, errs = GetChains(ctx, []string{own.ID, foreign.ID, "missing"})
	})
	assert.Empty(t, errs)
	require.Len(t, chains, 3)
	require.NotNil(t, chains[0])
	assert.Equal(t, own.ID, chains[0].ID)
	assert.Nil(t, chains[1])
	assert.Nil(t, chains[2])
}

func TestGetChainsThroughRequestLoaders(t *testing.T) {
	db := openStore(t)
	own := seedChain(t, db, "profile-a", "inv-1")
	foreign := seedChain(t, db, "profile-b", "inv-9")

	ctx := utils.SetBusinessProfileIdInContext(context.Background(), "profile-a")
	ctx = WithLoaders(ctx, NewLoaders(db))
	_, ok := For(ctx)
	require.True(t, ok)

	chains, errs := GetChains(ctx, []string{foreign.ID, own.ID})
	for _, err := range errs {
		assert.NoError(t, err)
	}
	require.Len(t, chains, 2)
	assert.Nil(t, chains[0])
	require.NotNil(t, chains[1])
	assert.Equal(t, own.ID, chains[1].ID)
}

func TestGetChainsRequiresProfile(t *testing.T) {
	db := openStore(t)
	own := seedChain(t, db, "profile-a", "inv-1")

	chains, errs := GetChains(context.Background(), []string{own.ID})
	require.Len(t, errs, 1)
	assert.Equal(t, models.ErrKindValidation, models.KindOf(errs[0]))
	assert.Nil(t, chains[0])
}

func TestGetChainsWithoutDatabase(t *testing.T) {
	previous := config.GetDB()
	config.SetDB(nil)
	t.Cleanup(func() { config.SetDB(previous) })

	ctx := utils.SetBusinessProfileIdInContext(context.Background(), "profile-a")
	chains, errs := GetChains(ctx, []string{"a", "b"})
	require.Len(t, errs, 2)
	assert.Error(t, errs[0])
	assert.Equal(t, []*models.Chain{nil, nil}, chains)
}
