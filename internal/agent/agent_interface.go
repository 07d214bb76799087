package agent

import "context"

// Processor runs one conversation turn against the model.
// This interface is implemented by the gRPC client.
type Processor interface {
	// Converse sends the turn and returns the model's reply.
	Converse(ctx context.Context, turn Turn) (Reply, error)

	// Close releases resources
	Close()
}

// Ensure GrpcClient implements Processor.
var _ Processor = (*GrpcClient)(nil)
