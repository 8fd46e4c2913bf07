package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
)

// CoreTypes must be present in every generated repodata directory.
var CoreTypes = []string{"primary", "filelists", "other"}

// CheckResult captures warnings and an optional terminal error.
type CheckResult struct {
	Warnings []string `json:"warnings"`
	Err      error    `json:"-"`
}

// Check validates that the core index files exist and that every file
// listed in repomd.xml matches its recorded checksums. Entries whose
// checksum type cannot be computed are reported as warnings.
func Check(ctx context.Context, b backend.Backend) CheckResult {
	md, err := LoadRepoMD(ctx, b)
	if err != nil {
		return CheckResult{Err: fmt.Errorf("load repomd.xml: %w", err)}
	}
	var errs []error
	for _, t := range CoreTypes {
		if md.Find(t) == nil {
			errs = append(errs, fmt.Errorf("missing %s metadata in repomd.xml", t))
		}
	}
	var warnings []string
	for _, d := range md.Data {
		if !SupportedChecksum(d.Checksum.Type) {
			warnings = append(warnings, fmt.Sprintf("metadata type '%s' uses checksum %q; not verified", d.Type, d.Checksum.Type))
			continue
		}
		if _, err := ReadAndVerify(ctx, b, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Type, err))
		}
	}
	return CheckResult{Warnings: warnings, Err: errors.Join(errs...)}
}
