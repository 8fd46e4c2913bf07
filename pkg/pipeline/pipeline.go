// Package pipeline drives a complete export run: export, repodata refresh,
// signature verification, errata extraction, metadata signing and errata
// publication.
package pipeline

import (
	"context"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/catalog"
	"github.com/e2llm/rpmrepo-export/pkg/errata"
	"github.com/e2llm/rpmrepo-export/pkg/export"
	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/metrics"
	"github.com/e2llm/rpmrepo-export/pkg/repodata"
	"github.com/e2llm/rpmrepo-export/pkg/sched"
	"github.com/e2llm/rpmrepo-export/pkg/signing"
	"github.com/e2llm/rpmrepo-export/pkg/verify"
)

type Exporter interface {
	CreateJobs(ctx context.Context, repos []catalog.Repository) []export.Job
	RunExport(ctx context.Context, job export.Job) (string, bool)
}

type Regenerator interface {
	Regenerate(ctx context.Context, repoDir string) (repodata.Mode, error)
}

type Verifier interface {
	VerifyDirectory(ctx context.Context, dir string, keys verify.KeySet) verify.Summary
}

type Extractor interface {
	ExtractAll(ctx context.Context, dirs []string) map[string]*errata.PlatformCache
}

type Publisher interface {
	Publish(ctx context.Context, cache *errata.PlatformCache) error
}

type Signer interface {
	SelectKey(platformID int64) (string, bool)
	SignAll(ctx context.Context, targets []signing.Target) []signing.Outcome
}

// Deps are the collaborators of a run. Signer and Publisher may be nil to
// skip those stages.
type Deps struct {
	IO        *sched.IO
	Post      *sched.Pool
	Exporter  Exporter
	Repodata  Regenerator
	Verifier  Verifier
	Errata    Extractor
	Publisher Publisher
	Signer    Signer
	Report    *verify.Report
	Metrics   *metrics.Metrics
	Logger    *log.Entry
}

// Request selects what a run exports.
type Request struct {
	Repositories []catalog.Repository
	// Keys holds the trusted package signing keys per platform id. Jobs of
	// platforms without an entry skip signature verification.
	Keys map[int64]verify.KeySet
	// SignPlatformID, when set, picks the metadata signing key for every
	// job instead of each job's own platform.
	SignPlatformID int64
	// ErrataPlatforms lists the platforms whose errata are published.
	ErrataPlatforms []string
}

// Summary is the outcome of a run.
type Summary struct {
	Jobs      []*JobRecord
	Errata    map[string]int
	Published []string
}

// Count returns how many jobs ended in state s.
func (s Summary) Count(state JobState) int {
	n := 0
	for _, j := range s.Jobs {
		if j.State == state {
			n++
		}
	}
	return n
}

// ExportPaths returns the export paths of the jobs that were exported.
func (s Summary) ExportPaths() []string {
	var out []string
	for _, j := range s.Jobs {
		if j.reached(Exported) {
			out = append(out, j.Job.ExportPath)
		}
	}
	return out
}

// Run is one export run.
type Run struct {
	Deps
}

func New(deps Deps) *Run {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.IO == nil {
		deps.IO = sched.NewIO()
	}
	return &Run{Deps: deps}
}

// Execute runs every stage. Failures are recorded per job and never abort
// the run; only a failure to reset the error report is returned.
func (r *Run) Execute(ctx context.Context, req Request) (Summary, error) {
	if r.Report != nil {
		if err := r.Report.Reset(); err != nil {
			return Summary{}, err
		}
	}

	done := r.Metrics.Time("create_jobs")
	jobs := r.Exporter.CreateJobs(ctx, req.Repositories)
	done()
	records := make([]*JobRecord, len(jobs))
	for i, j := range jobs {
		records[i] = newRecord(j)
	}
	r.Logger.WithFields(log.Fields{"repositories": len(req.Repositories), "jobs": len(jobs)}).Info("export jobs created")

	r.exportStage(ctx, records)
	r.refreshStage(ctx, records)
	r.verifyStage(ctx, records, req.Keys)
	caches := r.errataStage(ctx, records)
	r.signStage(ctx, records, req.SignPlatformID)
	published := r.publishStage(ctx, caches, req.ErrataPlatforms)

	sum := Summary{Jobs: records, Errata: make(map[string]int, len(caches)), Published: published}
	for p, c := range caches {
		sum.Errata[p] = c.Len()
	}
	r.record(sum)
	return sum, nil
}

func (r *Run) exportStage(ctx context.Context, records []*JobRecord) {
	defer r.Metrics.Time("export")()
	sched.Gather(ctx, r.IO, records, func(ctx context.Context, rec *JobRecord) struct{} {
		if _, ok := r.Exporter.RunExport(ctx, rec.Job); ok {
			rec.advance(Exported)
		} else {
			rec.advance(ExportFailed)
		}
		return struct{}{}
	})
}

func (r *Run) refreshStage(ctx context.Context, records []*JobRecord) {
	defer r.Metrics.Time("repodata")()
	sched.Dispatch(ctx, r.Post, inState(records, Exported), func(ctx context.Context, rec *JobRecord) struct{} {
		mode, err := r.Repodata.Regenerate(ctx, rec.Job.RepoDir())
		rec.Mode = mode
		logger := r.Logger.WithField("repo", rec.Job.RepoDir())
		if err != nil {
			rec.Err = err
			rec.advance(RefreshFailed)
			r.Metrics.Failures.WithLabelValues("repodata", string(faults.KindOf(err))).Inc()
			logger.WithError(err).Error("post-processing has failed")
		} else {
			rec.advance(RepodataRefreshed)
			logger.WithField("mode", mode).Info("post-processing is successful")
		}
		return struct{}{}
	})
}

func (r *Run) verifyStage(ctx context.Context, records []*JobRecord, keys map[int64]verify.KeySet) {
	if r.Verifier == nil || len(keys) == 0 {
		return
	}
	defer r.Metrics.Time("verify")()
	var targets []*JobRecord
	for _, rec := range inState(records, RepodataRefreshed) {
		if _, ok := keys[rec.Job.PlatformID]; ok {
			targets = append(targets, rec)
		}
	}
	sched.Gather(ctx, r.IO, targets, func(ctx context.Context, rec *JobRecord) struct{} {
		s := r.Verifier.VerifyDirectory(ctx, rec.Job.ExportPath, keys[rec.Job.PlatformID])
		rec.Signatures = &s
		rec.advance(SignatureChecked)
		for _, st := range verify.Statuses {
			r.Metrics.Packages.WithLabelValues(st.String()).Add(float64(s.Count(st)))
		}
		return struct{}{}
	})
}

func (r *Run) errataStage(ctx context.Context, records []*JobRecord) map[string]*errata.PlatformCache {
	if r.Errata == nil {
		return nil
	}
	defer r.Metrics.Time("errata")()
	refreshed := refreshedJobs(records)
	dirs := make([]string, len(refreshed))
	for i, rec := range refreshed {
		dirs[i] = rec.Job.RepoDir()
	}
	caches := r.Errata.ExtractAll(ctx, dirs)
	for _, rec := range refreshed {
		rec.advance(ErrataExtracted)
	}
	return caches
}

func (r *Run) signStage(ctx context.Context, records []*JobRecord, signPlatform int64) {
	refreshed := refreshedJobs(records)
	if r.Signer == nil {
		for _, rec := range refreshed {
			rec.advance(Unsigned)
		}
		return
	}
	defer r.Metrics.Time("sign")()
	targets := make([]signing.Target, len(refreshed))
	for i, rec := range refreshed {
		platform := rec.Job.PlatformID
		if signPlatform != 0 {
			platform = signPlatform
		}
		key, _ := r.Signer.SelectKey(platform)
		targets[i] = signing.Target{RepodataDir: filepath.Join(rec.Job.RepoDir(), "repodata"), KeyID: key}
	}
	for i, o := range r.Signer.SignAll(ctx, targets) {
		if o.Signed {
			refreshed[i].advance(Signed)
			continue
		}
		refreshed[i].Err = o.Err
		refreshed[i].advance(Unsigned)
		r.Metrics.Failures.WithLabelValues("sign", string(faults.KindOf(o.Err))).Inc()
	}
}

func (r *Run) publishStage(ctx context.Context, caches map[string]*errata.PlatformCache, platforms []string) []string {
	if r.Publisher == nil || len(platforms) == 0 {
		return nil
	}
	defer r.Metrics.Time("publish")()
	var published []string
	for _, p := range platforms {
		c, ok := caches[p]
		if !ok {
			r.Logger.WithField("platform", p).Warn("no errata extracted, skipping publication")
			continue
		}
		if err := r.Publisher.Publish(ctx, c); err != nil {
			r.Metrics.Failures.WithLabelValues("publish", string(faults.KindOf(err))).Inc()
			continue
		}
		published = append(published, p)
	}
	return published
}

func (r *Run) record(sum Summary) {
	for _, s := range JobStates {
		if s.Terminal() {
			r.Metrics.Jobs.WithLabelValues(string(s)).Set(float64(sum.Count(s)))
		}
	}
	r.Metrics.Repomd.WithLabelValues("signed").Add(float64(sum.Count(Signed)))
	r.Metrics.Repomd.WithLabelValues("unsigned").Add(float64(sum.Count(Unsigned)))
	platforms := make([]string, 0, len(sum.Errata))
	for p, n := range sum.Errata {
		r.Metrics.Errata.WithLabelValues(p).Set(float64(n))
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	r.Logger.WithFields(log.Fields{
		"jobs":           len(sum.Jobs),
		"export_failed":  sum.Count(ExportFailed),
		"refresh_failed": sum.Count(RefreshFailed),
		"signed":         sum.Count(Signed),
		"unsigned":       sum.Count(Unsigned),
		"platforms":      platforms,
	}).Info("run finished")
}

func inState(records []*JobRecord, s JobState) []*JobRecord {
	var out []*JobRecord
	for _, rec := range records {
		if rec.State == s {
			out = append(out, rec)
		}
	}
	return out
}

func refreshedJobs(records []*JobRecord) []*JobRecord {
	var out []*JobRecord
	for _, rec := range records {
		if rec.reached(RepodataRefreshed) && !rec.State.Terminal() {
			out = append(out, rec)
		}
	}
	return out
}
