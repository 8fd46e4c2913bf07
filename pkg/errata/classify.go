package errata

import (
	"path/filepath"
	"regexp"

	log "github.com/sirupsen/logrus"
)

// DefaultPlatform is used for paths outside the almalinux and vault trees.
const DefaultPlatform = "AlmaLinux-8"

var platformPattern = regexp.MustCompile(`/(almalinux|vault)/(\d+)/`)

// Classifier maps an exported repository path to its platform.
type Classifier struct {
	fallback string
	logger   *log.Entry
}

func NewClassifier(fallback string, logger *log.Entry) *Classifier {
	if fallback == "" {
		fallback = DefaultPlatform
	}
	return &Classifier{fallback: fallback, logger: logger}
}

// Classify returns the platform for path and whether it was derived from the
// path rather than the fallback.
func (c *Classifier) Classify(path string) (string, bool) {
	m := platformPattern.FindStringSubmatch(filepath.ToSlash(path) + "/")
	if m == nil {
		c.logger.WithField("path", path).Warnf("cannot classify repository, assuming %s", c.fallback)
		return c.fallback, false
	}
	return "AlmaLinux-" + m[2], true
}
