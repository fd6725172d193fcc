package approval

import (
	"context"
)

// Service is the approval registry contract. Grant and Query are
// linearizable per checkpoint: a query that observes a grant returns true
// for every subsequent query of the same entry.
type Service interface {
	// Ensure creates the entry for a checkpoint if absent; a pipeline run
	// creates entries implicitly on reaching the corresponding gate.
	Ensure(ctx context.Context, checkpoint string) (*Entry, error)

	// Grant marks a checkpoint approved. It is idempotent - repeated calls
	// return the entry with the first call's GrantedAt - and it never
	// fails for business reasons.
	Grant(ctx context.Context, checkpoint string) (*Entry, error)

	// Query reports whether the checkpoint has been approved.
	Query(ctx context.Context, checkpoint string) (bool, error)

	// Entry returns the current state of a checkpoint, or nil when the
	// checkpoint has never been reached.
	Entry(ctx context.Context, checkpoint string) (*Entry, error)

	// Pending lists entries that are awaiting a grant.
	Pending(ctx context.Context) ([]*Entry, error)
}
