// Package export drives filesystem exports of artifact-store repositories.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
	"github.com/e2llm/rpmrepo-export/pkg/catalog"
	"github.com/e2llm/rpmrepo-export/pkg/sched"
)

// ArtifactStore is the subset of the artifact store the orchestrator uses.
type ArtifactStore interface {
	EnsureExporter(ctx context.Context, name, path, method string) (string, error)
	LatestVersion(ctx context.Context, repoHref string) (string, error)
	Publications(ctx context.Context, versionHref string) ([]string, error)
	Export(ctx context.Context, exporterHref, versionHref string) error
}

// Fetcher downloads repository index files.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Job is the export plan of one repository.
type Job struct {
	RepositoryID    int64
	PlatformID      int64
	ExportPath      string
	VersionHref     string
	ExporterHref    string
	ExporterName    string
	RepositoryURL   string
	PublicationHref string
}

// RepoDir is the directory holding Packages and repodata.
func (j Job) RepoDir() string {
	return filepath.Dir(j.ExportPath)
}

// ExporterName is the artifact-store exporter name of a repository.
func ExporterName(r catalog.Repository) string {
	name := r.Name + "-" + r.Arch
	if r.Debug {
		name += "-debug"
	}
	return name
}

// Orchestrator creates and runs export jobs.
type Orchestrator struct {
	store      ArtifactStore
	fetch      Fetcher
	io         *sched.IO
	exportRoot string
	method     string
	logger     *log.Entry
}

func New(store ArtifactStore, fetch Fetcher, io *sched.IO, exportRoot, method string, logger *log.Entry) *Orchestrator {
	return &Orchestrator{store: store, fetch: fetch, io: io, exportRoot: exportRoot, method: method, logger: logger}
}

// CreateJobs prepares an exporter and resolves the latest version of every
// repository concurrently. Repositories that fail are logged and left out.
func (o *Orchestrator) CreateJobs(ctx context.Context, repos []catalog.Repository) []Job {
	results := sched.Gather(ctx, o.io, repos, func(ctx context.Context, r catalog.Repository) *Job {
		job, err := o.createJob(ctx, r)
		if err != nil {
			o.logger.WithError(err).WithField("repository", r.ID).Error("cannot prepare export")
			return nil
		}
		return job
	})
	jobs := make([]Job, 0, len(results))
	for _, j := range results {
		if j != nil {
			jobs = append(jobs, *j)
		}
	}
	return jobs
}

func (o *Orchestrator) createJob(ctx context.Context, r catalog.Repository) (*Job, error) {
	job := &Job{
		RepositoryID:  r.ID,
		PlatformID:    r.PlatformID,
		ExportPath:    filepath.Join(o.exportRoot, r.ExportPath, "Packages"),
		ExporterName:  ExporterName(r),
		RepositoryURL: r.URL,
	}
	var err error
	if job.ExporterHref, err = o.store.EnsureExporter(ctx, job.ExporterName, job.ExportPath, o.method); err != nil {
		return nil, fmt.Errorf("exporter %s: %w", job.ExporterName, err)
	}
	if job.VersionHref, err = o.store.LatestVersion(ctx, r.PulpHref); err != nil {
		return nil, fmt.Errorf("latest version of %s: %w", r.PulpHref, err)
	}
	if job.VersionHref == "" {
		return nil, fmt.Errorf("repository %s has no version", r.PulpHref)
	}
	pubs, err := o.store.Publications(ctx, job.VersionHref)
	if err != nil {
		o.logger.WithError(err).WithField("version", job.VersionHref).Warn("cannot list publications")
	} else if len(pubs) > 0 {
		job.PublicationHref = pubs[0]
	}
	return job, nil
}

// RunExport exports one job and refreshes its repodata directory from the
// repository URL. It returns the export path, or false when the export did
// not happen.
func (o *Orchestrator) RunExport(ctx context.Context, job Job) (string, bool) {
	logger := o.logger.WithFields(log.Fields{"exporter": job.ExporterName, "version": job.VersionHref})
	logger.Info("exporting repository")
	if err := o.store.Export(ctx, job.ExporterHref, job.VersionHref); err != nil {
		logger.WithError(err).Error("cannot export repository")
		return "", false
	}
	parent := job.RepoDir()
	if _, err := os.Stat(parent); err != nil {
		logger.WithError(err).Errorf("repository directory %s is absent", parent)
		return "", false
	}

	repodata := filepath.Join(parent, "repodata")
	if err := os.RemoveAll(repodata); err != nil {
		logger.WithError(err).Error("cannot clear repodata")
		return job.ExportPath, true
	}
	if err := os.MkdirAll(repodata, 0o755); err != nil {
		logger.WithError(err).Error("cannot create repodata")
		return job.ExportPath, true
	}
	if err := o.downloadRepodata(ctx, repodata, job.RepositoryURL); err != nil {
		logger.WithError(err).Error("cannot download repodata")
	}
	return job.ExportPath, true
}

func (o *Orchestrator) downloadRepodata(ctx context.Context, dir, repoURL string) error {
	base, err := repodataURL(repoURL)
	if err != nil {
		return err
	}
	page, err := o.fetch.Get(ctx, base)
	if err != nil {
		return err
	}
	links, err := RepodataLinks(page, base)
	if err != nil {
		return err
	}
	out := backend.NewFSBackend(dir)
	var errs []error
	for _, link := range links {
		name := path.Base(link)
		o.logger.WithField("url", link).Debug("downloading repodata file")
		data, err := o.fetch.Get(ctx, link)
		if err == nil {
			err = out.WriteFile(ctx, name, data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ExportRepositories creates and runs the jobs of repos and returns the jobs
// that produced an export path.
func (o *Orchestrator) ExportRepositories(ctx context.Context, repos []catalog.Repository) []Job {
	jobs := o.CreateJobs(ctx, repos)
	paths := sched.Gather(ctx, o.io, jobs, func(ctx context.Context, j Job) string {
		p, _ := o.RunExport(ctx, j)
		return p
	})
	var done []Job
	for i, p := range paths {
		if p != "" {
			done = append(done, jobs[i])
		}
	}
	return done
}
