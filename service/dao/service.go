package dao

import (
	"context"
)

// Service abstracts entity storage. The engine persists run state through
// this interface so that memory and filesystem implementations are
// interchangeable.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
