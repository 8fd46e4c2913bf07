package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
	"github.com/e2llm/rpmrepo-export/pkg/buildsys"
	"github.com/e2llm/rpmrepo-export/pkg/catalog"
	"github.com/e2llm/rpmrepo-export/pkg/config"
	"github.com/e2llm/rpmrepo-export/pkg/errata"
	"github.com/e2llm/rpmrepo-export/pkg/export"
	"github.com/e2llm/rpmrepo-export/pkg/metrics"
	"github.com/e2llm/rpmrepo-export/pkg/pipeline"
	"github.com/e2llm/rpmrepo-export/pkg/pulp"
	"github.com/e2llm/rpmrepo-export/pkg/remote"
	"github.com/e2llm/rpmrepo-export/pkg/repodata"
	"github.com/e2llm/rpmrepo-export/pkg/sched"
	"github.com/e2llm/rpmrepo-export/pkg/signing"
	"github.com/e2llm/rpmrepo-export/pkg/signserver"
	"github.com/e2llm/rpmrepo-export/pkg/verify"
)

type exportOptions struct {
	platformNames []string
	repoIDs       []int64
	arches        []string
	releaseID     int64
}

func newExportCmd(g *globalOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export repositories, refresh their metadata, check signatures and publish errata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			logger, closer, err := newLogger(cmd, cfg, g)
			if err != nil {
				return err
			}
			defer closer.Close()
			return runExport(cmd.Context(), cfg, opts, logger)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.platformNames, "platform-names", nil, "platform names to export")
	flags.Int64SliceVar(&opts.repoIDs, "repo-ids", nil, "repository ids to export")
	flags.StringSliceVarP(&opts.arches, "arches", "a", nil, "architectures to export")
	flags.Int64Var(&opts.releaseID, "release-id", 0, "export the repositories of a release")
	cmd.MarkFlagsOneRequired("platform-names", "repo-ids", "release-id")
	cmd.MarkFlagsMutuallyExclusive("release-id", "platform-names")
	cmd.MarkFlagsMutuallyExclusive("release-id", "repo-ids")
	return cmd
}

// runExport returns an error only when the run cannot start. Failures of
// individual repositories are logged and reported in the metrics.
func runExport(ctx context.Context, cfg *config.Config, opts *exportOptions, logger *log.Entry) error {
	cat, err := catalog.Open(ctx, cfg.Catalog.Driver, cfg.Catalog.DSN)
	if err != nil {
		return err
	}
	defer cat.Close()

	req, err := buildRequest(ctx, cat, opts, logger)
	if err != nil {
		return err
	}

	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sum, err := pipeline.New(deps).Execute(ctx, req)
	if err != nil {
		return err
	}
	logger.Debugf("all repositories exported in following paths:\n%s", strings.Join(sum.ExportPaths(), "\n"))
	dirty := 0
	for _, j := range sum.Jobs {
		if j.Signatures != nil && !j.Signatures.Clean() {
			dirty++
		}
	}
	if dirty > 0 {
		logger.Warnf("%d repositories have signature problems, see %s", dirty, deps.Report.Path())
	}
	if err := deps.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.WithError(err).Warn("cannot write metrics textfile")
	}
	return nil
}

// buildRequest selects the repositories of the run from the catalog.
func buildRequest(ctx context.Context, cat *catalog.Catalog, opts *exportOptions, logger *log.Entry) (pipeline.Request, error) {
	if opts.releaseID != 0 {
		logger.Infof("start exporting packages from release id=%d", opts.releaseID)
		rel, err := cat.Release(ctx, opts.releaseID)
		if err != nil {
			return pipeline.Request{}, err
		}
		ids, err := rel.RepositoryIDs()
		if err != nil {
			return pipeline.Request{}, err
		}
		repos, err := cat.Repositories(ctx, ids)
		if err != nil {
			return pipeline.Request{}, err
		}
		return pipeline.Request{Repositories: repos, SignPlatformID: rel.PlatformID}, nil
	}

	if opts.repoIDs != nil {
		logger.Infof("start exporting packages for following repositories: %v", opts.repoIDs)
	} else {
		logger.Infof("start exporting packages for following platforms: %v", opts.platformNames)
	}
	platforms, err := cat.Platforms(ctx, opts.platformNames)
	if err != nil {
		return pipeline.Request{}, err
	}
	keys := make(map[int64]verify.KeySet, len(platforms))
	for _, p := range platforms {
		keys[p.ID] = verify.NewKeySet(p.SignKeys...)
	}
	return pipeline.Request{
		Repositories:    catalog.Select(platforms, catalog.Filter{RepoIDs: opts.repoIDs, Arches: opts.arches}),
		Keys:            keys,
		ErrataPlatforms: opts.platformNames,
	}, nil
}

// buildDeps wires the collaborators of a run from the configuration.
func buildDeps(ctx context.Context, cfg *config.Config, logger *log.Entry) (pipeline.Deps, error) {
	io := sched.NewIO()
	post := sched.NewPool("post-processing", cfg.Workers.PostProcessing)

	store, err := remote.New(remote.ArtifactStoreTarget{
		URL:      cfg.ArtifactStore.URL,
		Username: cfg.ArtifactStore.Username,
		Password: cfg.ArtifactStore.Password,
	}, cfg.HTTPTimeout, logger)
	if err != nil {
		return pipeline.Deps{}, err
	}
	exporter := export.New(pulp.New(store, cfg.TaskTimeout, logger), store, io, cfg.ExportRoot, cfg.ExportMethod, logger)

	repos, err := repodata.New(cfg.ExportRoot, cfg.CacheDir, repodata.NewCreaterepo(), logger)
	if err != nil {
		return pipeline.Deps{}, err
	}

	subkeys, err := verify.LoadSubkeys(cfg.KnownSubkeys)
	if err != nil {
		return pipeline.Deps{}, err
	}
	logger.Debugf("loaded %d known subkeys", subkeys.Len())
	report := verify.NewReport(cfg.ErrorReport)

	build, err := newBuildSystem(cfg, logger)
	if err != nil {
		return pipeline.Deps{}, err
	}

	publisher, err := newPublisher(ctx, cfg, build, logger)
	if err != nil {
		return pipeline.Deps{}, err
	}

	deps := pipeline.Deps{
		IO:        io,
		Post:      post,
		Exporter:  exporter,
		Repodata:  repos,
		Verifier:  verify.New(sched.NewPool("signature-check", cfg.Workers.SignatureCheck), subkeys, report, logger),
		Errata:    newEngine(cfg, logger),
		Publisher: publisher,
		Report:    report,
		Metrics:   metrics.New(),
		Logger:    logger,
	}

	if cfg.SigningEnabled() {
		signer, err := newSigner(ctx, cfg, io, build, logger)
		if err != nil {
			return pipeline.Deps{}, err
		}
		deps.Signer = signer
	} else {
		logger.Warn("no signing service configured, repodata stays unsigned")
	}
	return deps, nil
}

// newBuildSystem returns nil when no build system is configured.
func newBuildSystem(cfg *config.Config, logger *log.Entry) (*buildsys.Client, error) {
	if cfg.BuildSystem.URL == "" {
		return nil, nil
	}
	rest, err := remote.New(remote.BuildSystemTarget{URL: cfg.BuildSystem.URL, Token: cfg.BuildSystem.Token}, cfg.HTTPTimeout, logger)
	if err != nil {
		return nil, err
	}
	return buildsys.New(rest), nil
}

func newEngine(cfg *config.Config, logger *log.Entry) *errata.Engine {
	pool := sched.NewPool("errata", cfg.Workers.Errata)
	return errata.NewEngine(pool, errata.NewClassifier(cfg.DefaultPlatform, logger), logger)
}

// newPublisher writes errata under <publish root>/errata and OSV documents
// under <osv dir>/osv. OVAL is published only when the build system is
// configured.
func newPublisher(ctx context.Context, cfg *config.Config, build *buildsys.Client, logger *log.Entry) (*errata.Publisher, error) {
	out, err := backend.New(ctx, cfg.Publish.Backend, strings.TrimSuffix(cfg.Publish.Root, "/")+"/errata", cfg.Publish.S3Endpoint)
	if err != nil {
		return nil, err
	}
	osv := backend.NewFSBackend(filepath.Join(cfg.OSVDir, "osv"))

	var oval errata.OVALSource
	if build != nil {
		oval = build
	}
	feed := errata.FeedOptions{
		Site:        cfg.Errata.SiteURL,
		AuthorName:  cfg.Errata.FeedAuthor,
		AuthorEmail: cfg.Errata.FeedEmail,
		Limit:       cfg.Errata.FeedLimit,
	}
	return errata.NewPublisher(out, osv, oval, feed, logger), nil
}

// newSigner fetches the sign key list from the build system. Without it
// every repository is left unsigned with a missing key.
func newSigner(ctx context.Context, cfg *config.Config, io *sched.IO, build *buildsys.Client, logger *log.Entry) (*signing.Coordinator, error) {
	rest, err := remote.New(remote.SigningServiceTarget{URL: cfg.Signing.URL}, cfg.HTTPTimeout, logger)
	if err != nil {
		return nil, err
	}
	var keys []catalog.SignKey
	if build != nil {
		keys, err = build.SignKeys(ctx)
		if err != nil {
			logger.WithError(err).Warn("cannot fetch sign keys")
		}
	} else {
		logger.Warn("no build system configured, sign keys are unknown")
	}
	server := signserver.New(rest, cfg.Signing.Username, cfg.Signing.Password, logger)
	return signing.New(server, io, keys, logger), nil
}
