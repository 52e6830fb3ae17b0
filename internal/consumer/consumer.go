package consumer

import (
	"context"
)

// MessageConsumer pulls resize requests from a broker until stopped.
type MessageConsumer interface {
	Start(ctx context.Context) error

	Stop()
}

var _ MessageConsumer = (*AMQPConsumer)(nil)
