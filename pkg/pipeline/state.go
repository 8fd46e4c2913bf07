package pipeline

import (
	"fmt"

	"github.com/e2llm/rpmrepo-export/pkg/export"
	"github.com/e2llm/rpmrepo-export/pkg/repodata"
	"github.com/e2llm/rpmrepo-export/pkg/verify"
)

// JobState is the stage a repository job has reached.
type JobState string

const (
	Created           JobState = "created"
	Exported          JobState = "exported"
	ExportFailed      JobState = "export_failed"
	RepodataRefreshed JobState = "repodata_refreshed"
	RefreshFailed     JobState = "refresh_failed"
	SignatureChecked  JobState = "signature_checked"
	ErrataExtracted   JobState = "errata_extracted"
	Signed            JobState = "signed"
	Unsigned          JobState = "unsigned"
)

// JobStates lists every state in stage order.
var JobStates = []JobState{
	Created, Exported, ExportFailed, RepodataRefreshed, RefreshFailed,
	SignatureChecked, ErrataExtracted, Signed, Unsigned,
}

var transitions = map[JobState][]JobState{
	Created:           {Exported, ExportFailed},
	Exported:          {RepodataRefreshed, RefreshFailed},
	RepodataRefreshed: {SignatureChecked, ErrataExtracted, Signed, Unsigned},
	SignatureChecked:  {ErrataExtracted, Signed, Unsigned},
	ErrataExtracted:   {SignatureChecked, Signed, Unsigned},
}

// Terminal reports whether no stage follows s.
func (s JobState) Terminal() bool {
	return len(transitions[s]) == 0
}

// JobRecord tracks one job through the run.
type JobRecord struct {
	Job        export.Job
	State      JobState
	History    []JobState
	Mode       repodata.Mode
	Signatures *verify.Summary
	Err        error
}

func newRecord(job export.Job) *JobRecord {
	return &JobRecord{Job: job, State: Created, History: []JobState{Created}}
}

// advance moves the record to next. Only transitions of the state machine
// are accepted; anything else is a programming error.
func (r *JobRecord) advance(next JobState) {
	for _, s := range transitions[r.State] {
		if s == next {
			r.State = next
			r.History = append(r.History, next)
			return
		}
	}
	panic(fmt.Sprintf("job %d: invalid transition %s -> %s", r.Job.RepositoryID, r.State, next))
}

// reached reports whether the record passed through s.
func (r *JobRecord) reached(s JobState) bool {
	for _, h := range r.History {
		if h == s {
			return true
		}
	}
	return false
}
