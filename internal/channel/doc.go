// Package channel provides the two in-process transports used between the
// supervisor and its work units.
//
// Queue is a bounded many-producer single-consumer queue. A full queue blocks
// the producer; once the consumer closes its Receiver every Send fails with
// ErrClosed, so producers never block forever on a gone consumer.
//
// Broadcast is a single-producer many-consumer ring. A Subscription sees every
// message sent after it was created, in order, unless it falls more than the
// ring capacity behind. In that case the next TryRecv reports a *LaggedError
// and the cursor jumps to the oldest retained message. Delivery is best effort.
package channel

import "errors"

var (
	ErrCapacity    = errors.New("channel capacity must be positive")
	ErrClosed      = errors.New("channel receiver closed")
	ErrEmpty       = errors.New("channel empty")
	ErrNoReceivers = errors.New("channel has no receivers")
)
