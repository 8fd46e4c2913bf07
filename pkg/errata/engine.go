package errata

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/sched"
)

// Engine extracts advisories from exported repositories and merges them into
// per-platform caches.
type Engine struct {
	pool       *sched.Pool
	classifier *Classifier
	logger     *log.Entry
}

func NewEngine(pool *sched.Pool, classifier *Classifier, logger *log.Entry) *Engine {
	return &Engine{pool: pool, classifier: classifier, logger: logger}
}

type extraction struct {
	dir      string
	platform string
	legacy   []Record
	modern   []ModernRecord
	err      error
}

// ExtractAll parses every directory on the pool and merges the results on
// the calling goroutine, in input order. A directory that fails to parse is
// logged and skipped.
func (e *Engine) ExtractAll(ctx context.Context, dirs []string) map[string]*PlatformCache {
	results := sched.Dispatch(ctx, e.pool, dirs, func(ctx context.Context, dir string) extraction {
		platform, _ := e.classifier.Classify(dir)
		legacy, modern, err := Extract(ctx, dir)
		return extraction{dir: dir, platform: platform, legacy: legacy, modern: modern, err: err}
	})

	caches := make(map[string]*PlatformCache)
	for _, r := range results {
		if r.err != nil {
			e.logger.WithError(r.err).WithField("repo", r.dir).Error("cannot extract errata")
			continue
		}
		e.Merge(caches, r.platform, r.legacy, r.modern)
		e.logger.WithFields(log.Fields{"repo": r.dir, "platform": r.platform, "advisories": len(r.modern)}).Debug("errata extracted")
	}
	return caches
}

// Merge folds one extraction into caches, creating the platform cache on
// first use.
func (e *Engine) Merge(caches map[string]*PlatformCache, platform string, legacy []Record, modern []ModernRecord) {
	c, ok := caches[platform]
	if !ok {
		c = NewPlatformCache(platform)
		caches[platform] = c
	}
	c.Merge(legacy, modern)
}
