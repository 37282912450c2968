package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/eventchain/compliance"
	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/mmdatafocus/eventchain/workflow")

// Engine owns every write to chains, objects, links, events and document versions.
// Each public operation is one transaction; a lost lock race is retried once.
type Engine struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Deriver  *compliance.Deriver
	Facts    compliance.FactSource
	Prefixes map[models.ChainType]string

	// PublishEvents writes a ChainEventOutbox row next to every chain event.
	PublishEvents bool
	Now           func() time.Time
}

func NewEngine(db *gorm.DB, logger *logrus.Logger, deriver *compliance.Deriver) *Engine {
	if deriver == nil {
		deriver = compliance.MustDefaultDeriver()
	}
	return &Engine{
		DB:       db,
		Logger:   logger,
		Deriver:  deriver,
		Facts:    compliance.StaticFacts(nil),
		Prefixes: models.DefaultChainNumberPrefixes,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// txScope carries everything a single transaction attempt needs. It is rebuilt on retry.
type txScope struct {
	ctx           context.Context
	tx            *gorm.DB
	profileId     string
	actorId       string
	actorName     string
	correlationId string
	now           time.Time

	// causationId is the event that triggered this operation, if any.
	causationId *int
	// root, when set, is written lazily as the first event of the operation.
	root *models.ChainEvent
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func requireProfile(ctx context.Context) (string, error) {
	profileId, _ := utils.GetBusinessProfileIdFromContext(ctx)
	profileId = strings.TrimSpace(profileId)
	if profileId == "" {
		return "", &models.EngineError{
			Kind:    models.ErrKindValidation,
			Message: "business profile id is required",
			Fields:  map[string]string{"business_profile_id": "required"},
		}
	}
	return profileId, nil
}

// run executes fn in a transaction scoped to the caller's business profile. The tenant
// guard plugin is bypassed inside: every engine query filters on the profile itself so a
// foreign row can be told apart from a missing one.
func (e *Engine) run(ctx context.Context, op string, fn func(s *txScope) error) error {
	ctx, span := tracer.Start(ctx, "workflow."+op)
	defer span.End()
	start := time.Now()

	profileId, err := requireProfile(ctx)
	if err != nil {
		observeOperation(op, start, err)
		return err
	}
	span.SetAttributes(attribute.String("business_profile_id", profileId))

	actorId, actorName := utils.ActorFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	dbCtx := utils.SetSkipTenantScopeInContext(ctx, true)

	for attempt := 1; ; attempt++ {
		err = e.DB.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
			return fn(&txScope{
				ctx:           ctx,
				tx:            tx,
				profileId:     profileId,
				actorId:       actorId,
				actorName:     actorName,
				correlationId: correlationId,
				now:           e.now(),
			})
		})
		err = classifyError(err)
		if attempt > 1 || models.KindOf(err) != models.ErrKindConcurrencyConflict {
			break
		}
		conflictRetries.WithLabelValues(op).Inc()
		if e.Logger != nil {
			e.Logger.WithFields(logrus.Fields{
				"module":              "workflow",
				"operation":           op,
				"business_profile_id": profileId,
				"correlation_id":      correlationId,
			}).Warn("concurrency conflict, retrying once: " + err.Error())
		}
	}

	observeOperation(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind := models.KindOf(err); kind == "" {
			config.LogError(e.Logger, "workflow", op, "transaction failed", logrus.Fields{
				"business_profile_id": profileId,
				"correlation_id":      correlationId,
			}, err)
		}
	}
	return err
}

// classifyError maps store failures to engine kinds; engine errors pass through.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var ee *models.EngineError
	if errors.As(err, &ee) {
		return err
	}
	if utils.IsSerializationErr(err) || utils.IsDuplicateKeyErr(err) {
		return &models.EngineError{Kind: models.ErrKindConcurrencyConflict, Message: "concurrent write lost the race", Err: err}
	}
	return err
}

func validationError(fields map[string]string, format string, args ...any) *models.EngineError {
	ee := models.NewEngineError(models.ErrKindValidation, "", format, args...)
	ee.Fields = fields
	return ee
}

// validateInput runs validate tags and reports failures as a Validation error.
func validateInput(v any) error {
	fields, err := utils.ValidateStruct(v)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return validationError(fields, "invalid input")
	}
	return nil
}

// loadChain reads a chain owned by the scope's profile, optionally row-locked.
func (s *txScope) loadChain(chainId string, lock bool) (*models.Chain, error) {
	var (
		chain *models.Chain
		err   error
	)
	if lock {
		chain, err = models.LockChain(s.tx, chainId)
	} else {
		var c models.Chain
		err = s.tx.Where("id = ?", chainId).Take(&c).Error
		chain = &c
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewEngineError(models.ErrKindNotFound, chainId, "chain not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(chain); err != nil {
		return nil, err
	}
	return chain, nil
}

func (s *txScope) checkOwner(chain *models.Chain) error {
	if chain.BusinessProfileId != s.profileId {
		return models.NewEngineError(models.ErrKindCrossTenantAccess, chain.ID, "chain belongs to another business profile")
	}
	return nil
}

// updateChain writes values plus updated_at.
func (s *txScope) updateChain(chain *models.Chain, values map[string]any) error {
	values["updated_at"] = s.now
	chain.UpdatedAt = s.now
	return s.tx.Model(&models.Chain{}).Where("id = ?", chain.ID).Updates(values).Error
}
