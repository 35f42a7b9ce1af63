// internal/migrate/outcome.go
package migrate

import "fmt"

// OutcomeStatus is the bounded result classification for one processed row.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusSkipped OutcomeStatus = "skipped"
	StatusFailed  OutcomeStatus = "failed"
)

// Outcome is the always-returned result of processing one Row. The processor
// never lets an error escape its boundary; every failure mode resolves to a
// failed Outcome with the reason preserved in Message.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	Action    string        `json:"action,omitempty"` // "created" or "updated" for success
	Title     string        `json:"title,omitempty"`
	Slug      string        `json:"slug,omitempty"`
	Path      string        `json:"path,omitempty"`
	Message   string        `json:"message,omitempty"`
	ContentID int64         `json:"content_id,omitempty"`

	// Transient marks failures worth retrying (network errors). Persistence
	// rejections and unexpected errors are terminal for the row.
	Transient bool `json:"transient,omitempty"`
}

// Updated reports whether a success outcome overwrote existing content rather
// than creating a new record.
func (o Outcome) Updated() bool {
	return o.Status == StatusSuccess && o.Action == "updated"
}

// Summary tallies outcomes for a whole run. Updates are counted apart from
// true creations so callers can honor the skip-existing safety contract.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Add folds one outcome into the summary.
func (s *Summary) Add(o Outcome) {
	switch {
	case o.Updated():
		s.Updated++
	case o.Status == StatusSuccess:
		s.Created++
	case o.Status == StatusSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// Total returns the number of outcomes folded into the summary.
func (s Summary) Total() int {
	return s.Created + s.Updated + s.Skipped + s.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("%d created, %d updated, %d skipped, %d failed",
		s.Created, s.Updated, s.Skipped, s.Failed)
}
