package middlewares

import (
	"context"
	"errors"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"gorm.io/gorm"
)

type chainReader struct {
	db *gorm.DB
}

// getChains leans on the tenant guard: the request context carries the business profile,
// so a foreign id resolves to nil like a missing one.
func (r *chainReader) getChains(ctx context.Context, ids []string) []*dataloader.Result[*models.Chain] {
	if profileId, _ := utils.GetBusinessProfileIdFromContext(ctx); profileId == "" {
		return handleError[*models.Chain](len(ids), models.NewEngineError(models.ErrKindValidation, "", "business profile id is required"))
	}
	var results []*models.Chain
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Chain](len(ids), err)
	}

	resultMap := make(map[string]*models.Chain, len(results))
	for _, result := range results {
		resultMap[result.ID] = result
	}
	loaderResults := make([]*dataloader.Result[*models.Chain], 0, len(ids))
	for _, id := range ids {
		loaderResults = append(loaderResults, &dataloader.Result[*models.Chain]{Data: resultMap[id]})
	}
	return loaderResults
}

// GetChains batches through the request's chain loader. Outside a request it reads the
// global connection directly with the same tenant rules.
func GetChains(ctx context.Context, ids []string) ([]*models.Chain, []error) {
	if loaders, ok := For(ctx); ok {
		return loaders.chainLoader.LoadMany(ctx, ids)()
	}
	var results []*dataloader.Result[*models.Chain]
	if conn := config.GetDB(); conn != nil {
		results = (&chainReader{db: conn}).getChains(ctx, ids)
	} else {
		results = handleError[*models.Chain](len(ids), errors.New("database is not connected"))
	}

	chains := make([]*models.Chain, len(results))
	var errs []error
	for i, result := range results {
		chains[i] = result.Data
		if result.Error != nil {
			if errs == nil {
				errs = make([]error, len(results))
			}
			errs[i] = result.Error
		}
	}
	return chains, errs
}
