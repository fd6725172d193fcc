package approval

import (
	"time"
)

// Entry is the per-checkpoint approval state. Approved is monotonic:
// once true it never resets, and GrantedAt keeps the first grant's
// timestamp forever.
type Entry struct {
	Checkpoint string     `json:"checkpoint"`
	Approved   bool       `json:"approved"`
	CreatedAt  time.Time  `json:"createdAt"`
	GrantedAt  *time.Time `json:"grantedAt,omitempty"`
}

// Clone returns a copy the caller may retain without racing registry
// mutations.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	if e.GrantedAt != nil {
		granted := *e.GrantedAt
		out.GrantedAt = &granted
	}
	return &out
}
