package queries

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/eventchain/models"
)

type TimelineEntryKind string

const (
	TimelineEvent   TimelineEntryKind = "event"
	TimelineVersion TimelineEntryKind = "version"
)

// maxCausationHops bounds the walk up foreign ancestors of a chain's events.
const maxCausationHops = 32

// TimelineEntry is one step of a chain's narrative: either a chain event or a version of
// one of the chain's documents. Depth counts causation hops up to the root event.
type TimelineEntry struct {
	Kind       TimelineEntryKind       `json:"kind"`
	OccurredAt time.Time               `json:"occurred_at"`
	Depth      int                     `json:"depth"`
	Event      *models.ChainEvent      `json:"event,omitempty"`
	Version    *models.DocumentVersion `json:"version,omitempty"`
}

// GetChainTimeline merges the chain's events with the versions of every document attached
// to it, oldest first.
func (s *Service) GetChainTimeline(ctx context.Context, chainId string) ([]*TimelineEntry, error) {
	ctx, span := tracer.Start(ctx, "queries.GetChainTimeline")
	defer span.End()

	profileId, err := requireProfile(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := s.loadChain(ctx, profileId, chainId)
	if err != nil {
		return nil, err
	}
	return s.timeline(ctx, profileId, chain)
}

func (s *Service) timeline(ctx context.Context, profileId string, chain *models.Chain) ([]*TimelineEntry, error) {
	var events []*models.ChainEvent
	err := s.db(ctx).Where("business_profile_id = ? AND chain_id = ?", profileId, chain.ID).
		Order("id ASC").Find(&events).Error
	if err != nil {
		return nil, err
	}

	var objects []*models.ChainObject
	err = s.db(ctx).Select("object_type, object_id").
		Where("business_profile_id = ? AND chain_id = ?", profileId, chain.ID).
		Find(&objects).Error
	if err != nil {
		return nil, err
	}
	versions, err := s.versionsOf(ctx, profileId, objects)
	if err != nil {
		return nil, err
	}

	depths, err := s.causationDepths(ctx, profileId, events)
	if err != nil {
		return nil, err
	}

	entries := make([]*TimelineEntry, 0, len(events)+len(versions))
	for _, ev := range events {
		entries = append(entries, &TimelineEntry{
			Kind:       TimelineEvent,
			OccurredAt: ev.OccurredAt,
			Depth:      depths[ev.ID],
			Event:      ev,
		})
	}
	for _, v := range versions {
		entries = append(entries, &TimelineEntry{
			Kind:       TimelineVersion,
			OccurredAt: v.CreatedAt,
			Version:    v,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if a.Kind != b.Kind {
			return a.Kind == TimelineEvent
		}
		return entryId(a) < entryId(b)
	})
	return entries, nil
}

func entryId(e *TimelineEntry) int {
	if e.Event != nil {
		return e.Event.ID
	}
	return e.Version.ID
}

func (s *Service) versionsOf(ctx context.Context, profileId string, objects []*models.ChainObject) ([]*models.DocumentVersion, error) {
	versions := []*models.DocumentVersion{}
	if len(objects) == 0 {
		return versions, nil
	}
	seen := map[[2]string]bool{}
	byType := map[models.ObjectType][]string{}
	for _, o := range objects {
		key := [2]string{string(o.ObjectType), o.ObjectId}
		if seen[key] {
			continue
		}
		seen[key] = true
		byType[o.ObjectType] = append(byType[o.ObjectType], o.ObjectId)
	}
	for docType, ids := range byType {
		var rows []*models.DocumentVersion
		err := s.db(ctx).
			Where("business_profile_id = ? AND document_type = ? AND document_id IN ?", profileId, docType, ids).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		versions = append(versions, rows...)
	}
	return versions, nil
}

// causationDepths walks the parent-pointer arena. Parents may live on other chains of the
// same profile and are fetched a generation at a time; a cycle or a missing parent ends
// the walk.
func (s *Service) causationDepths(ctx context.Context, profileId string, events []*models.ChainEvent) (map[int]int, error) {
	parent := make(map[int]*int, len(events))
	for _, ev := range events {
		parent[ev.ID] = ev.CausationEventId
	}

	for hop := 0; hop < maxCausationHops; hop++ {
		missing := make([]int, 0)
		queued := map[int]bool{}
		for _, p := range parent {
			if p == nil || queued[*p] {
				continue
			}
			if _, known := parent[*p]; !known {
				queued[*p] = true
				missing = append(missing, *p)
			}
		}
		if len(missing) == 0 {
			break
		}
		var ancestors []*models.ChainEvent
		err := s.db(ctx).Select("id, causation_event_id").
			Where("business_profile_id = ? AND id IN ?", profileId, missing).
			Find(&ancestors).Error
		if err != nil {
			return nil, err
		}
		for _, id := range missing {
			parent[id] = nil
		}
		for _, a := range ancestors {
			parent[a.ID] = a.CausationEventId
		}
	}

	return DepthsFromArena(parent), nil
}

// DepthsFromArena returns the number of causation hops from every node to its root.
// A parent missing from the arena counts as a root one hop up; a cycle is cut where the
// walk first revisits a node.
func DepthsFromArena(parent map[int]*int) map[int]int {
	depth := make(map[int]int, len(parent))
	for id := range parent {
		if _, done := depth[id]; done {
			continue
		}
		var path []int
		onPath := map[int]bool{}
		base := 0
		for cur := id; ; {
			if d, done := depth[cur]; done {
				base = d + 1
				break
			}
			if onPath[cur] {
				break
			}
			onPath[cur] = true
			path = append(path, cur)
			p := parent[cur]
			if p == nil {
				break
			}
			if _, known := parent[*p]; !known {
				base = 1
				break
			}
			cur = *p
		}
		for i := len(path) - 1; i >= 0; i-- {
			depth[path[i]] = base
			base++
		}
	}
	return depth
}
