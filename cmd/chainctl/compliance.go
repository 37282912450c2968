package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const rebuildLockTTL = 10 * time.Minute

type rebuildSummary struct {
	BusinessProfileId string   `json:"business_profile_id"`
	Chains            int      `json:"chains"`
	NeedsAttention    int      `json:"needs_attention"`
	Failed            []string `json:"failed,omitempty"`
}

func newRebuildComplianceCommand(opts *rootOptions) *cobra.Command {
	var (
		useRedis        bool
		continueOnError bool
	)
	cmd := &cobra.Command{
		Use:   "rebuild-compliance",
		Short: "Re-derive blockers and required actions of every chain",
		Long: `Re-derive blockers and required actions of every chain with the current rule set.

Run after changing the compliance rule file. With --redis the run holds a per-profile
lock so two rebuilds of the same profile do not interleave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := config.GetLogger()
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer closeDB(db)
			engine, err := newEngine(db, opts, logger)
			if err != nil {
				return err
			}
			if useRedis {
				redisCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				config.ConnectRedisWithRetry(redisCtx)
				cancel()
				if config.GetRedisLock() == nil {
					return errors.New("redis is not reachable")
				}
			}

			ids, err := profiles(ctx, engine, opts)
			if err != nil {
				return err
			}
			summaries := make([]rebuildSummary, 0, len(ids))
			for _, profileId := range ids {
				summary, err := rebuildProfile(ctx, profileId, continueOnError, logger, func(pctx context.Context, chainId string) (*models.Chain, error) {
					return engine.RecomputeCompliance(pctx, chainId)
				})
				if err != nil {
					return err
				}
				summaries = append(summaries, summary)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			for _, s := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chains, %d need attention, %d failed\n",
					s.BusinessProfileId, s.Chains, s.NeedsAttention, len(s.Failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useRedis, "redis", false, "hold a redis lock per profile while rebuilding")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "skip failing chains and continue with the others")
	return cmd
}

func rebuildProfile(ctx context.Context, profileId string, continueOnError bool, logger *logrus.Logger,
	recompute func(context.Context, string) (*models.Chain, error)) (rebuildSummary, error) {
	summary := rebuildSummary{BusinessProfileId: profileId}

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "lock:chainctl:rebuild-compliance:"+profileId, rebuildLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return summary, fmt.Errorf("another rebuild holds the lock for %s", profileId)
		}
		if err != nil {
			return summary, err
		}
		defer func() {
			_ = lock.Release(context.WithoutCancel(ctx))
		}()
	}

	var chainIds []string
	err := config.GetDB().WithContext(utils.SetSkipTenantScopeInContext(ctx, true)).
		Model(&models.Chain{}).
		Where("business_profile_id = ?", profileId).
		Order("id ASC").
		Pluck("id", &chainIds).Error
	if err != nil {
		return summary, err
	}

	pctx := profileContext(ctx, profileId)
	for _, chainId := range chainIds {
		chain, err := recompute(pctx, chainId)
		if err != nil {
			config.LogError(logger, "chainctl", "rebuildProfile", "RecomputeCompliance", logrus.Fields{
				"business_profile_id": profileId,
				"chain_id":            chainId,
			}, err)
			if !continueOnError {
				return summary, fmt.Errorf("chain %s: %w", chainId, err)
			}
			summary.Failed = append(summary.Failed, chainId)
			continue
		}
		summary.Chains++
		if chain.NeedsAttention {
			summary.NeedsAttention++
		}
	}
	return summary, nil
}
