// Package verify classifies exported packages by signature and reports the
// packages that fail.
package verify

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/sched"
)

// Summary partitions the packages of one directory.
type Summary struct {
	Dir      string
	Checked  int
	Signed   int
	Errored  []Result
	Unsigned []Result
	Wrong    []Result
}

// Clean reports whether every checked package was correctly signed.
func (s Summary) Clean() bool {
	return len(s.Errored) == 0 && len(s.Unsigned) == 0 && len(s.Wrong) == 0
}

// Count returns the number of packages with status st.
func (s Summary) Count(st Status) int {
	switch st {
	case Success:
		return s.Signed
	case NoSignature:
		return len(s.Unsigned)
	case WrongSignature:
		return len(s.Wrong)
	case ReadError:
		return len(s.Errored)
	}
	return 0
}

// Verifier checks directories of packages on a bounded worker pool.
type Verifier struct {
	pool    *sched.Pool
	subkeys *Subkeys
	report  *Report
	logger  *log.Entry
}

func New(pool *sched.Pool, subkeys *Subkeys, report *Report, logger *log.Entry) *Verifier {
	return &Verifier{pool: pool, subkeys: subkeys, report: report, logger: logger}
}

// VerifyDirectory checks every *.rpm directly inside dir. Findings are
// appended to the report; nothing is returned as an error.
func (v *Verifier) VerifyDirectory(ctx context.Context, dir string, keys KeySet) Summary {
	logger := v.logger.WithField("dir", dir)
	logger.Info("checking package signatures")
	summary := Summary{Dir: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.WithError(err).Error("cannot list packages")
		return summary
	}
	var pkgs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".rpm") {
			logger.Debugf("skipping non-RPM entry %s", e.Name())
			continue
		}
		pkgs = append(pkgs, filepath.Join(dir, e.Name()))
	}

	results := sched.Dispatch(ctx, v.pool, pkgs, func(_ context.Context, path string) Result {
		return Check(path, keys, v.subkeys)
	})
	for _, r := range results {
		summary.Checked++
		switch r.Status {
		case Success:
			summary.Signed++
		case NoSignature:
			summary.Unsigned = append(summary.Unsigned, r)
		case WrongSignature:
			summary.Wrong = append(summary.Wrong, r)
		case ReadError:
			summary.Errored = append(summary.Errored, r)
			logger.WithError(r.Err).Debugf("cannot read %s", r.Path)
		}
	}

	if text := block(summary); text != "" && v.report != nil {
		if err := v.report.Append(text); err != nil {
			logger.WithError(err).Error("cannot write error report")
		}
	}
	logger.WithFields(log.Fields{
		"checked":  summary.Checked,
		"errored":  len(summary.Errored),
		"unsigned": len(summary.Unsigned),
		"wrong":    len(summary.Wrong),
	}).Info("signature check is done")
	return summary
}
