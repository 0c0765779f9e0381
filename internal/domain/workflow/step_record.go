package workflow

import "time"

// StepRecord is the per-step payload and status of a session
type StepRecord struct {
	Content       string            `json:"content"`
	Fields        map[string]string `json:"fields,omitempty"`
	Approved      bool              `json:"approved"`
	Completed     bool              `json:"completed"`
	Version       int               `json:"version"`        // Latest artifact version, 0 until first generation
	RevisionsUsed int               `json:"revisions_used"` // Consumed revision budget
	Seq           int64             `json:"seq"`            // Bumped on every mutation of this record
	GeneratedAt   *time.Time        `json:"generated_at,omitempty"`
	EditedAt      *time.Time        `json:"edited_at,omitempty"`
	ApprovedAt    *time.Time        `json:"approved_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	InFlight      *InFlight         `json:"in_flight,omitempty"` // Remote generation issued and not yet settled
}

// InFlight marks a remote generation issued for a step. It lives in the
// snapshot so every process sharing the session store sees it. A marker
// past its deadline belongs to an abandoned request.
type InFlight struct {
	RequestID string    `json:"request_id"`
	Deadline  time.Time `json:"deadline"`
}

// StepPatch is a partial update of a step record.
// A nil Content leaves the content untouched; a field set to "" is removed.
type StepPatch struct {
	Content *string           `json:"content,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// IsEmpty returns true if the patch would change nothing
func (p StepPatch) IsEmpty() bool {
	return p.Content == nil && len(p.Fields) == 0
}

// RevisionBudget is the per-step cap on feedback-driven regenerations
type RevisionBudget struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// Remaining returns how many revisions are still available
func (b RevisionBudget) Remaining() int {
	if b.Used >= b.Max {
		return 0
	}
	return b.Max - b.Used
}

// Exhausted returns true once no revision may be requested
func (b RevisionBudget) Exhausted() bool {
	return b.Used >= b.Max
}

// Budget returns the revision budget of the record for the given ceiling
func (r *StepRecord) Budget(max int) RevisionBudget {
	return RevisionBudget{Used: r.RevisionsUsed, Max: max}
}

func (r *StepRecord) clone() *StepRecord {
	c := *r
	if r.Fields != nil {
		c.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			c.Fields[k] = v
		}
	}
	c.GeneratedAt = cloneTime(r.GeneratedAt)
	c.EditedAt = cloneTime(r.EditedAt)
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	if r.InFlight != nil {
		m := *r.InFlight
		c.InFlight = &m
	}
	return &c
}

func (r *StepRecord) mergeFields(fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	if r.Fields == nil {
		r.Fields = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		if v == "" {
			delete(r.Fields, k)
			continue
		}
		r.Fields[k] = v
	}
	if len(r.Fields) == 0 {
		r.Fields = nil
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timePtr(t time.Time) *time.Time {
	return &t
}
