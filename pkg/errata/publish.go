package errata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
)

// OVALSource provides the OVAL document of a platform.
type OVALSource interface {
	OVAL(ctx context.Context, platform string, onlyReleased bool) ([]byte, error)
}

// Publisher writes the per-platform outputs of a merged cache. Paths are
// relative to the backends: <platform>/... on out and <osvdir>/... on osv.
type Publisher struct {
	out    backend.Backend
	osv    backend.Backend
	oval   OVALSource
	feed   FeedOptions
	logger *log.Entry
	now    func() time.Time
}

func NewPublisher(out, osv backend.Backend, oval OVALSource, feed FeedOptions, logger *log.Entry) *Publisher {
	return &Publisher{out: out, osv: osv, oval: oval, feed: feed, logger: logger, now: time.Now}
}

// Publish writes every artifact of one platform. A failing artifact is
// logged and does not stop the others; the joined failures are returned.
func (p *Publisher) Publish(ctx context.Context, c *PlatformCache) error {
	logger := p.logger.WithField("platform", c.Platform)
	var errs []error
	fail := func(artifact string, err error) {
		if err == nil {
			return
		}
		logger.WithError(err).Errorf("cannot publish %s", artifact)
		errs = append(errs, fmt.Errorf("%s %s: %w", c.Platform, artifact, err))
	}

	if p.osv != nil {
		fail("osv", p.publishOSV(ctx, c))
	}
	fail("html", p.publishHTML(ctx, c))

	data, err := LegacyJSON(c)
	if err == nil {
		err = p.out.WriteFile(ctx, path.Join(c.Platform, "errata.json"), data)
	}
	fail("errata.json", err)

	data, err = ModernJSON(c)
	if err == nil {
		err = p.out.WriteFile(ctx, path.Join(c.Platform, "errata.full.json"), data)
	}
	fail("errata.full.json", err)

	if p.oval != nil {
		data, err = p.oval.OVAL(ctx, c.Platform, true)
		if err == nil {
			err = p.out.WriteFile(ctx, path.Join(c.Platform, "oval.xml"), data)
		}
		fail("oval.xml", err)
	}

	data, err = RSS(c.Platform, c, p.feed, p.now())
	if err == nil {
		err = p.out.WriteFile(ctx, path.Join(c.Platform, "errata.rss"), data)
	}
	fail("errata.rss", err)

	if len(errs) == 0 {
		logger.WithField("advisories", c.Len()).Info("errata published")
	}
	return errors.Join(errs...)
}

func (p *Publisher) publishHTML(ctx context.Context, c *PlatformCache) error {
	dir := path.Join(c.Platform, "html")
	keep := make(map[string]bool)
	for _, r := range c.Modern() {
		if err := CheckID(r.ID); err != nil {
			return err
		}
		page, err := HTMLPage(r)
		if err != nil {
			return fmt.Errorf("%s: %w", r.ID, err)
		}
		name := path.Join(dir, HTMLName(r.ID))
		if err := p.out.WriteFile(ctx, name, page); err != nil {
			return err
		}
		keep[name] = true
	}
	return p.prune(ctx, p.out, dir, keep)
}

func (p *Publisher) publishOSV(ctx context.Context, c *PlatformCache) error {
	dir := OSVDir(c.Platform)
	keep := make(map[string]bool)
	for _, r := range c.Modern() {
		if err := CheckID(r.ID); err != nil {
			return err
		}
		doc, err := json.MarshalIndent(ToOSV(r, c.Platform), "", "  ")
		if err != nil {
			return err
		}
		name := path.Join(dir, r.ID+".json")
		if err := p.osv.WriteFile(ctx, name, doc); err != nil {
			return err
		}
		keep[name] = true
	}
	return p.prune(ctx, p.osv, dir, keep)
}

// prune deletes the files under dir that the current cache no longer
// produces.
func (p *Publisher) prune(ctx context.Context, b backend.Backend, dir string, keep map[string]bool) error {
	existing, err := b.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, name := range existing {
		if keep[name] {
			continue
		}
		if err := b.DeleteFile(ctx, name); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
		p.logger.WithField("file", name).Debug("removed stale errata file")
	}
	return nil
}
