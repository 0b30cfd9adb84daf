package llm

import "context"

// ChatChunk is one piece of a streamed chat response. A text-only reply
// arrives as a sequence of Delta chunks followed by one Done=true chunk
// carrying the Final accumulated message; a tool-call reply may arrive with
// ToolCallDelta set instead of Delta.
type ChatChunk struct {
	Delta         string
	ToolCallDelta *ToolCall
	Done          bool
	Final         ChatOut
	Err           error
}

// StreamingChatModel is implemented by providers that can stream partial
// responses. A ChatModel that does not implement this interface is wrapped
// by NonStreaming, which fakes a one-chunk stream from a single Chat call.
type StreamingChatModel interface {
	ChatModel

	// ChatStream behaves like Chat but delivers the response incrementally
	// over the returned channel, which the provider closes once the final
	// chunk (Done=true) has been sent.
	ChatStream(ctx context.Context, messages []Message, tools []ToolSpec) (<-chan ChatChunk, error)
}

// NonStreaming adapts a plain ChatModel to StreamingChatModel by issuing one
// blocking Chat call and replaying its result as a single terminal chunk.
type NonStreaming struct {
	ChatModel
}

func (n NonStreaming) ChatStream(ctx context.Context, messages []Message, tools []ToolSpec) (<-chan ChatChunk, error) {
	out, err := n.Chat(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan ChatChunk, 1)
	ch <- ChatChunk{Done: true, Final: out}
	close(ch)
	return ch, nil
}

// AsStreaming returns m unchanged if it already streams, otherwise wraps it
// in NonStreaming.
func AsStreaming(m ChatModel) StreamingChatModel {
	if s, ok := m.(StreamingChatModel); ok {
		return s
	}
	return NonStreaming{ChatModel: m}
}
