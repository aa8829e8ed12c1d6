// Package reply defines the boundary to the conversational decision logic.
// The session layer never decides what to say; it hands the accumulated
// history and item context to an Engine and sends back whatever comes out.
package reply

import "context"

// Turn is one conversational turn. Role is "user" for the customer and
// "assistant" for the account owner or the engine.
type Turn struct {
	Role    string
	Content string
}

// Engine computes a reply from conversation history and item context.
// Implementations are expected to be slow (network, model latency) and are
// always invoked off the event loop.
type Engine interface {
	ComputeReply(ctx context.Context, history []Turn, itemContext string) (string, error)
}

// Func adapts a plain function to the Engine interface.
type Func func(ctx context.Context, history []Turn, itemContext string) (string, error)

func (f Func) ComputeReply(ctx context.Context, history []Turn, itemContext string) (string, error) {
	return f(ctx, history, itemContext)
}
