package port

import "context"

// ChangeNotifier carries "collection changed" signals for stores that have
// no native change feed.
type ChangeNotifier interface {
	Publish(ctx context.Context, collection string) error
	Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error)
}
