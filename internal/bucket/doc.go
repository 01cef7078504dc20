// Package bucket holds the per-bucket layers of cbfront: the opened
// Connection and the Binding of operation entry points that close over it.
//
// A Binding is built once per connection and never changes. Each entry
// point starts the transport call in its own goroutine and returns a
// future; transport failures are wrapped in *cluster.OperationError.
//
//	conn := bucket.NewConnection(cfg, handle)
//	b := bucket.Bind(conn)
//	doc, err := b.Get(ctx, "user::1").Await(ctx)
package bucket
