package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/e2llm/rpmrepo-export/pkg/sched"
	"github.com/e2llm/rpmrepo-export/pkg/verify"
)

func newVerifyCmd(g *globalOptions) *cobra.Command {
	var keys []string
	cmd := &cobra.Command{
		Use:   "verify <dir>",
		Short: "Check the package signatures of one exported directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cmd, cfg, g)
			if err != nil {
				return err
			}
			defer closer.Close()

			subkeys, err := verify.LoadSubkeys(cfg.KnownSubkeys)
			if err != nil {
				return err
			}
			report := verify.NewReport(cfg.ErrorReport)
			if err := report.Reset(); err != nil {
				return err
			}
			v := verify.New(sched.NewPool("signature-check", cfg.Workers.SignatureCheck), subkeys, report, logger)
			s := v.VerifyDirectory(cmd.Context(), args[0], verify.NewKeySet(keys...))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d packages in %s\n", s.Checked, s.Dir)
			for _, st := range verify.Statuses {
				fmt.Fprintf(out, "  %-16s %d\n", st, s.Count(st))
			}
			for _, group := range [][]verify.Result{s.Errored, s.Unsigned, s.Wrong} {
				for _, r := range group {
					fmt.Fprintf(out, "%s\t%s\t%s\n", r.Status, r.Path, r.Signer)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "trusted signing key ids")
	_ = cmd.MarkFlagRequired("keys")
	return cmd
}

func newErrataCmd(g *globalOptions) *cobra.Command {
	var publish bool
	cmd := &cobra.Command{
		Use:   "errata <repo-dir>...",
		Short: "Extract and merge errata from exported repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cmd, cfg, g)
			if err != nil {
				return err
			}
			defer closer.Close()
			ctx := cmd.Context()

			caches := newEngine(cfg, logger).ExtractAll(ctx, args)
			platforms := make([]string, 0, len(caches))
			for p := range caches {
				platforms = append(platforms, p)
			}
			sort.Strings(platforms)
			out := cmd.OutOrStdout()
			for _, p := range platforms {
				fmt.Fprintf(out, "%s\t%d\n", p, caches[p].Len())
			}
			if !publish {
				return nil
			}

			build, err := newBuildSystem(cfg, logger)
			if err != nil {
				return err
			}
			publisher, err := newPublisher(ctx, cfg, build, logger)
			if err != nil {
				return err
			}
			for _, p := range platforms {
				if err := publisher.Publish(ctx, caches[p]); err != nil {
					logger.WithError(err).WithField("platform", p).Error("errata publication incomplete")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "write the errata outputs of every platform found")
	return cmd
}
