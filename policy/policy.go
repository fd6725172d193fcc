// Package policy provides a simple, optional per-run approval policy that
// can be attached to a run via context. It is deliberately decoupled from
// the rest of the engine so that using it is entirely opt-in - runs that do
// not carry a Policy keep the default manual-approval behaviour.

package policy

import (
	"context"
	"strings"
)

// Approval modes recognised by the engine.
const (
	ModeManual = "manual" // wait for an explicit grant (default)
	ModeAuto   = "auto"   // grant checkpoints automatically on gate entry
)

// Policy represents the approval settings for one run.
//
//   - Mode controls the high-level behaviour (manual / auto).
//   - AllowList and BlockList filter which checkpoints an auto policy may
//     grant; BlockList has priority.
//
// A nil *Policy means "wait for manual grants" and is therefore the
// zero-cost default.
type Policy struct {
	Mode      string
	AllowList []string // whitelist (empty => all)
	BlockList []string // blacklist
}

// Config represents the declarative, serialisable part of a Policy; it is
// what gets persisted with a run.
type Config struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowList []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:      p.Mode,
		AllowList: append([]string(nil), p.AllowList...),
		BlockList: append([]string(nil), p.BlockList...),
	}
}

// FromConfig converts a stored Config back to a runtime Policy.
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:      c.Mode,
		AllowList: append([]string(nil), c.AllowList...),
		BlockList: append([]string(nil), c.BlockList...),
	}
}

// AutoApproves reports whether the policy grants the supplied checkpoint
// without a human in the loop.
func (p *Policy) AutoApproves(checkpoint string) bool {
	if p == nil || !strings.EqualFold(p.Mode, ModeAuto) {
		return false
	}
	return p.isAllowed(checkpoint)
}

// isAllowed evaluates AllowList / BlockList by case-insensitive exact match
// of the checkpoint reference.
func (p *Policy) isAllowed(checkpoint string) bool {
	normalized := strings.ToLower(checkpoint)

	// BlockList has priority.
	for _, b := range p.BlockList {
		if normalized == strings.ToLower(b) {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, a := range p.AllowList {
		if normalized == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts the policy carried by ctx, or nil.
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
