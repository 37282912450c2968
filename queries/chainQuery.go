package queries

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/mmdatafocus/eventchain/queries")

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ChainLoaderFunc resolves chains by id for the caller's profile. Missing ids come back nil.
type ChainLoaderFunc func(ctx context.Context, ids []string) ([]*models.Chain, []error)

// Service is the read side of the engine. It never writes.
type Service struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	// LoadChains resolves link counterparts; nil reads them straight from DB.
	LoadChains ChainLoaderFunc
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{DB: db, Logger: logger}
}

type ChainFilter struct {
	ChainType            *models.ChainType  `form:"type"`
	State                *models.ChainState `form:"state"`
	RequiresVerification *bool              `form:"requires_verification"`
	Verified             *bool              `form:"verified"`
	NeedsAttention       *bool              `form:"needs_attention"`
	Q                    string             `form:"q"`
	Limit                int                `form:"limit"`
	Offset               int                `form:"offset"`
}

// ChainSummary is a list row: the chain plus activity aggregates.
type ChainSummary struct {
	*models.Chain
	EventCount         int64      `json:"event_count"`
	LastActivityAt     *time.Time `json:"last_activity_at"`
	RelatedObjectCount int64      `json:"related_object_count"`
}

type ChainList struct {
	Chains     []*ChainSummary `json:"chains"`
	TotalCount int64           `json:"total_count"`
}

// ChainRef is the short form of a chain at the far end of a link.
type ChainRef struct {
	ID                string            `json:"id"`
	ChainNumber       string            `json:"chain_number"`
	ChainType         models.ChainType  `json:"chain_type"`
	State             models.ChainState `json:"state"`
	Title             string            `json:"title"`
	PrimaryObjectType models.ObjectType `json:"primary_object_type"`
	PrimaryObjectId   string            `json:"primary_object_id"`
}

type ChainDetail struct {
	Chain          *models.Chain        `json:"chain"`
	NeedsAttention bool                 `json:"needs_attention"`
	Objects        []*models.ChainObject `json:"objects"`
	Links          []*models.ChainLink   `json:"links"`
	Counterparts   map[string]*ChainRef `json:"counterparts"`
	Timeline       []*TimelineEntry     `json:"timeline"`
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

// db bypasses the tenant guard; every query here names the profile itself.
func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(utils.SetSkipTenantScopeInContext(ctx, true))
}

// GetChains lists the profile's chains, most recently updated first.
func (s *Service) GetChains(ctx context.Context, filter ChainFilter) (*ChainList, error) {
	ctx, span := tracer.Start(ctx, "queries.GetChains")
	defer span.End()

	profileId, err := requireProfile(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	q := s.filteredChains(ctx, profileId, filter)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var chains []*models.Chain
	err = s.filteredChains(ctx, profileId, filter).
		Order("updated_at DESC").Order("id ASC").
		Limit(limit).Offset(max(filter.Offset, 0)).
		Find(&chains).Error
	if err != nil {
		return nil, err
	}

	summaries, err := s.summarize(ctx, profileId, chains)
	if err != nil {
		return nil, err
	}
	return &ChainList{Chains: summaries, TotalCount: total}, nil
}

func validateFilter(f ChainFilter) error {
	fields := map[string]string{}
	if f.ChainType != nil && !f.ChainType.IsValid() {
		fields["type"] = "oneof"
	}
	if f.State != nil && !f.State.IsValid() {
		fields["state"] = "oneof"
	}
	if f.Limit < 0 {
		fields["limit"] = "min"
	}
	if f.Offset < 0 {
		fields["offset"] = "min"
	}
	if len(fields) == 0 {
		return nil
	}
	return &models.EngineError{Kind: models.ErrKindValidation, Message: "invalid chain filter", Fields: fields}
}

func (s *Service) filteredChains(ctx context.Context, profileId string, f ChainFilter) *gorm.DB {
	q := s.db(ctx).Model(&models.Chain{}).Where("business_profile_id = ?", profileId)
	if f.ChainType != nil {
		q = q.Where("chain_type = ?", *f.ChainType)
	}
	if f.State != nil {
		q = q.Where("state = ?", *f.State)
	}
	if f.RequiresVerification != nil {
		q = q.Where("requires_verification = ?", *f.RequiresVerification)
	}
	if f.Verified != nil {
		if *f.Verified {
			q = q.Where("verified_at IS NOT NULL")
		} else {
			q = q.Where("verified_at IS NULL")
		}
	}
	if f.NeedsAttention != nil {
		q = q.Where("needs_attention = ?", *f.NeedsAttention)
	}
	if term := strings.TrimSpace(f.Q); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(chain_number) LIKE ? OR LOWER(primary_object_id) LIKE ?)", like, like, like)
	}
	return q
}

type chainCount struct {
	ChainId string
	Count   int64
}

// summarize attaches the activity aggregates. The last activity is the newest event by id,
// loaded as a row so the timestamp scans the same way on every driver.
func (s *Service) summarize(ctx context.Context, profileId string, chains []*models.Chain) ([]*ChainSummary, error) {
	summaries := make([]*ChainSummary, 0, len(chains))
	if len(chains) == 0 {
		return summaries, nil
	}
	ids := make([]string, 0, len(chains))
	for _, c := range chains {
		ids = append(ids, c.ID)
	}

	var eventCounts, objectCounts []chainCount
	err := s.db(ctx).Model(&models.ChainEvent{}).
		Select("chain_id, COUNT(*) AS count").
		Where("business_profile_id = ? AND chain_id IN ?", profileId, ids).
		Group("chain_id").
		Scan(&eventCounts).Error
	if err != nil {
		return nil, err
	}
	err = s.db(ctx).Model(&models.ChainObject{}).
		Select("chain_id, COUNT(*) AS count").
		Where("business_profile_id = ? AND chain_id IN ? AND role <> ?", profileId, ids, models.ObjectRolePrimary).
		Group("chain_id").
		Scan(&objectCounts).Error
	if err != nil {
		return nil, err
	}
	var lastEvents []models.ChainEvent
	err = s.db(ctx).Select("id, chain_id, occurred_at").
		Where("id IN (?)", s.db(ctx).Model(&models.ChainEvent{}).
			Select("MAX(id)").
			Where("business_profile_id = ? AND chain_id IN ?", profileId, ids).
			Group("chain_id")).
		Find(&lastEvents).Error
	if err != nil {
		return nil, err
	}

	events := make(map[string]int64, len(eventCounts))
	for _, c := range eventCounts {
		events[c.ChainId] = c.Count
	}
	objects := make(map[string]int64, len(objectCounts))
	for _, c := range objectCounts {
		objects[c.ChainId] = c.Count
	}
	lastAt := make(map[string]time.Time, len(lastEvents))
	for _, ev := range lastEvents {
		lastAt[ev.ChainId] = ev.OccurredAt
	}

	for _, c := range chains {
		summary := &ChainSummary{
			Chain:              c,
			EventCount:         events[c.ID],
			RelatedObjectCount: objects[c.ID],
		}
		if at, ok := lastAt[c.ID]; ok {
			summary.LastActivityAt = &at
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// loadChain tells a foreign chain apart from a missing one.
func (s *Service) loadChain(ctx context.Context, profileId, chainId string) (*models.Chain, error) {
	var chain models.Chain
	err := s.db(ctx).Where("id = ?", chainId).Take(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewEngineError(models.ErrKindNotFound, chainId, "chain not found")
	}
	if err != nil {
		return nil, err
	}
	if chain.BusinessProfileId != profileId {
		return nil, models.NewEngineError(models.ErrKindCrossTenantAccess, chainId, "chain belongs to another business profile")
	}
	return &chain, nil
}

// GetChainDetail assembles everything a chain detail screen shows.
func (s *Service) GetChainDetail(ctx context.Context, chainId string) (*ChainDetail, error) {
	ctx, span := tracer.Start(ctx, "queries.GetChainDetail")
	defer span.End()

	profileId, err := requireProfile(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := s.loadChain(ctx, profileId, chainId)
	if err != nil {
		return nil, err
	}

	detail := &ChainDetail{
		Chain:          chain,
		NeedsAttention: chain.ComputeNeedsAttention(),
		Objects:        []*models.ChainObject{},
		Links:          []*models.ChainLink{},
		Counterparts:   map[string]*ChainRef{},
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db(gctx).Where("business_profile_id = ? AND chain_id = ?", profileId, chainId).
			Order("id ASC").Find(&detail.Objects).Error
	})
	g.Go(func() error {
		return s.db(gctx).Where("business_profile_id = ? AND (from_chain_id = ? OR to_chain_id = ?)", profileId, chainId, chainId).
			Order("id ASC").Find(&detail.Links).Error
	})
	g.Go(func() error {
		timeline, err := s.timeline(gctx, profileId, chain)
		detail.Timeline = timeline
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.resolveCounterparts(ctx, profileId, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Service) resolveCounterparts(ctx context.Context, profileId string, detail *ChainDetail) error {
	seen := map[string]bool{}
	ids := make([]string, 0, len(detail.Links))
	for _, l := range detail.Links {
		other := l.ToChainId
		if other == detail.Chain.ID {
			other = l.FromChainId
		}
		if !seen[other] {
			seen[other] = true
			ids = append(ids, other)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var (
		chains []*models.Chain
		errs   []error
	)
	if s.LoadChains != nil {
		chains, errs = s.LoadChains(ctx, ids)
	} else {
		var rows []*models.Chain
		if err := s.db(ctx).Where("business_profile_id = ? AND id IN ?", profileId, ids).Find(&rows).Error; err != nil {
			return err
		}
		byId := make(map[string]*models.Chain, len(rows))
		for _, c := range rows {
			byId[c.ID] = c
		}
		for _, id := range ids {
			chains = append(chains, byId[id])
		}
	}
	for i, c := range chains {
		if i < len(errs) && errs[i] != nil {
			return errs[i]
		}
		if c == nil {
			continue
		}
		detail.Counterparts[c.ID] = &ChainRef{
			ID:                c.ID,
			ChainNumber:       c.ChainNumber,
			ChainType:         c.ChainType,
			State:             c.State,
			Title:             c.Title,
			PrimaryObjectType: c.PrimaryObjectType,
			PrimaryObjectId:   c.PrimaryObjectId,
		}
	}
	return nil
}
