// Package approval defines the checkpoint approval registry. Grants are a
// trusted, externally-authorised signal: Grant performs no business-rule
// validation and always succeeds, but the operation is isolated behind the
// Service interface so that a stricter policy can be substituted without
// touching the orchestrator.
package approval
