// Package history keeps the append-only record of a run. A store is owned by
// exactly one orchestrator and is never shared between runs.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pagewarden/pagewarden/api/schemas"
)

// Store is the ordered sequence of step records. Records are appended in
// step order and never mutated or reordered; the only structural change is
// window compaction, which replaces a prefix with a summary record.
type Store struct {
	records []schemas.StepRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Append adds one record, assigning its identifier.
func (s *Store) Append(record schemas.StepRecord) {
	record.ID = uuid.New().String()
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	s.records = append(s.records, record)
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Records returns a copy of the sequence so callers cannot mutate history.
func (s *Store) Records() []schemas.StepRecord {
	out := make([]schemas.StepRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Last returns the most recent record and whether one exists.
func (s *Store) Last() (schemas.StepRecord, bool) {
	if len(s.records) == 0 {
		return schemas.StepRecord{}, false
	}
	return s.records[len(s.records)-1], true
}

// IsDone reports whether any record carries a terminal result.
func (s *Store) IsDone() bool {
	for _, r := range s.records {
		if r.IsDone() {
			return true
		}
	}
	return false
}

// VisitedURLs returns every distinct location touched during the run, in
// first-visit order.
func (s *Store) VisitedURLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, r := range s.records {
		for _, u := range []string{r.URLBefore, r.URLAfter} {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}
	return urls
}

// Errors returns the error payloads recorded across all steps.
func (s *Store) Errors() []string {
	var out []string
	for _, r := range s.records {
		if r.Error != "" {
			out = append(out, r.Error)
		}
		for _, res := range r.Results {
			if res.IsError() {
				out = append(out, res.Error)
			}
		}
	}
	return out
}

// Compact replaces the oldest n records with a single summary record.
// Results flagged for long-term memory survive compaction inside the summary
// record so they stay visible to the model. No-op when n exceeds the stored
// prefix that may be compacted.
func (s *Store) Compact(n int, summary string) {
	if n <= 0 || n > len(s.records) {
		return
	}
	keep := make([]schemas.ActionResult, 0)
	for _, r := range s.records[:n] {
		for _, res := range r.Results {
			if res.LongTermMemory {
				keep = append(keep, res)
			}
		}
	}
	compacted := schemas.StepRecord{
		ID:        uuid.New().String(),
		Step:      s.records[n-1].Step,
		Thought:   summary,
		Results:   keep,
		Timestamp: time.Now().UTC(),
	}
	s.records = append([]schemas.StepRecord{compacted}, s.records[n:]...)
}

// Render produces the compact textual view of the run submitted back to the
// model each step.
func (s *Store) Render() string {
	var b strings.Builder
	for _, r := range s.records {
		fmt.Fprintf(&b, "Step %d:", r.Step+1)
		if r.Thought != "" {
			b.WriteString(" " + r.Thought)
		}
		b.WriteString("\n")
		for i, call := range r.Calls {
			fmt.Fprintf(&b, "  %s -> ", call.Name)
			if i < len(r.Results) {
				res := r.Results[i]
				if res.IsError() {
					b.WriteString("error: " + res.Error)
				} else if res.Content != "" {
					b.WriteString(res.Content)
				} else {
					b.WriteString("ok")
				}
			}
			b.WriteString("\n")
		}
		if r.Error != "" {
			b.WriteString("  step error: " + r.Error + "\n")
		}
	}
	return b.String()
}
