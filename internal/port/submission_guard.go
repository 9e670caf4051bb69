package port

import "context"

type SubmissionGuard interface {
	// Acquire claims a submission key, returns false if it is already held
	Acquire(ctx context.Context, key string) (bool, error)

	// Release frees the key so a failed submission can be retried
	Release(ctx context.Context, key string) error
}
