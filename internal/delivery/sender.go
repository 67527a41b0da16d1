package delivery

import "context"

// Sender performs one delivery attempt to an external address. The transport
// behind it (SMS gateway, vendor API) is an opaque collaborator; senders
// classify their own failures via RetryableError where they can.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}
