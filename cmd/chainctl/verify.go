package main

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/workflow"
	"github.com/spf13/cobra"
)

type profileViolations struct {
	BusinessProfileId string               `json:"business_profile_id"`
	Violations        []workflow.Violation `json:"violations"`
}

func newVerifyInvariantsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-invariants",
		Short: "Report stored rows that break chain invariants",
		Long: `Scan chains, links and document versions and report every violation:
a chain without exactly one primary object, a state outside its type's set,
settlements above the total, stale paid/remaining amounts, and version gaps.

Exits non-zero when any violation is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := openDB(opts)
			if err != nil {
				return err
			}
			defer closeDB(db)
			engine, err := newEngine(db, opts, config.GetLogger())
			if err != nil {
				return err
			}
			ids, err := profiles(ctx, engine, opts)
			if err != nil {
				return err
			}

			report := make([]profileViolations, 0, len(ids))
			total := 0
			for _, profileId := range ids {
				vs, err := engine.VerifyInvariants(profileContext(ctx, profileId))
				if err != nil {
					return err
				}
				total += len(vs)
				report = append(report, profileViolations{BusinessProfileId: profileId, Violations: vs})
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				for _, p := range report {
					for _, v := range p.Violations {
						subject := v.ChainId
						if subject == "" {
							subject = string(v.DocumentType) + "/" + v.DocumentId
						}
						fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.BusinessProfileId, v.Code, subject, v.Message)
					}
				}
				fmt.Fprintf(out, "%d profiles checked, %d violations\n", len(report), total)
			}
			if total > 0 {
				return fmt.Errorf("%d invariant violations", total)
			}
			return nil
		},
	}
}
