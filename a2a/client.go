// Package a2a implements the client half of the A2A remote-agent JSON-RPC
// wire format (§6): message/send (non-streaming) and message/stream
// (Server-Sent Events), plus a graph node that proxies the conversation's
// messages to a remote agent and folds its textual reply back into state.
//
// Modeled on tool/http.go for request/response handling; the JSON-RPC
// envelope and SSE framing follow kadirpekel/hector's usage of
// github.com/a2aproject/a2a-go, without taking that module as a dependency
// (it is a full server+client SDK heavier than the client role needed
// here — see DESIGN.md).
package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Client speaks the A2A JSON-RPC protocol to one remote agent endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a Client targeting endpoint (the remote agent's JSON-RPC
// HTTP POST URL). A zero-value http.Client is used if httpClient is nil.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{endpoint: endpoint, http: httpClient}
}

// messagePart is one `parts[]` entry of an A2A message envelope.
type messagePart struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// messageEnvelope is the `message` field of a message/send or message/stream
// request, per §6's Params shape.
type messageEnvelope struct {
	Kind      string        `json:"kind"`
	MessageID string        `json:"messageId"`
	Parts     []messagePart `json:"parts"`
	Role      string        `json:"role"`
}

type requestParams struct {
	Message  messageEnvelope `json:"message"`
	Metadata requestMetadata `json:"metadata,omitempty"`
}

// requestMetadata carries the optional thread/user correlation fields §6
// names.
type requestMetadata struct {
	ThreadID string `json:"threadId,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  requestParams `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Params is the caller-supplied content of one A2A request: the text to
// send plus optional thread/user correlation.
type Params struct {
	Text     string
	ThreadID string
	UserID   string
}

func buildRequest(method string, p Params) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params: requestParams{
			Message: messageEnvelope{
				Kind:      "message",
				MessageID: uuid.NewString(),
				Parts:     []messagePart{{Kind: "text", Text: p.Text}},
				Role:      "user",
			},
			Metadata: requestMetadata{ThreadID: p.ThreadID, UserID: p.UserID},
		},
	}
}

// Send issues a non-streaming message/send call and returns the extracted
// text from whichever of §6's result variants the remote agent used.
func (c *Client) Send(ctx context.Context, p Params) (string, error) {
	req := buildRequest("message/send", p)
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("a2a: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("a2a: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("a2a: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("a2a: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("a2a: remote agent returned status %d: %s", resp.StatusCode, raw)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return "", fmt.Errorf("a2a: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("a2a: remote agent error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return extractText(rpcResp.Result)
}

// Stream issues a message/stream call and returns a channel of incremental
// text fragments extracted from each SSE `data:` line, closed when the
// remote agent sends the terminal `data: [DONE]` line or the connection
// ends. A failure to send the request or a 4xx/5xx status is returned as
// Stream's own error. Once streaming has begun, a malformed event, a remote
// agent error, or a read failure is delivered as the channel's final
// Err-set Chunk before it closes.
func (c *Client) Stream(ctx context.Context, p Params) (<-chan Chunk, error) {
	req := buildRequest("message/stream", p)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("a2a: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("a2a: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("a2a: request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("a2a: remote agent returned status %d: %s", resp.StatusCode, raw)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}
			if data == "" {
				continue
			}
			var rpcResp rpcResponse
			if err := json.Unmarshal([]byte(data), &rpcResp); err != nil {
				select {
				case out <- Chunk{Err: fmt.Errorf("a2a: decode event: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if rpcResp.Error != nil {
				select {
				case out <- Chunk{Err: fmt.Errorf("a2a: remote agent error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)}:
				case <-ctx.Done():
				}
				return
			}
			text, err := extractText(rpcResp.Result)
			if err != nil {
				select {
				case out <- Chunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if text == "" {
				continue // legal for intermediate status events (§6)
			}
			select {
			case out <- Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- Chunk{Err: fmt.Errorf("a2a: stream read failed: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Chunk is one fragment of a streamed A2A response.
type Chunk struct {
	Text string
	Err  error
}

// resultVariants mirrors the four result shapes §6 enumerates; only the
// one matching the remote agent's response actually decodes non-empty.
type resultVariants struct {
	Kind   string `json:"kind"`
	Status *struct {
		State   string `json:"state"`
		Message struct {
			Parts []messagePart `json:"parts"`
		} `json:"message"`
	} `json:"status"`
	Artifact *struct {
		Parts []messagePart `json:"parts"`
	} `json:"artifact"`
	Parts   []messagePart `json:"parts"`
	Message *struct {
		Parts []messagePart `json:"parts"`
	} `json:"message"`
}

// extractText pulls the text out of whichever of §6's four result variants
// is present: status-update, artifact-update, bare parts, or a bare
// message. Empty text is legal (intermediate status).
func extractText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var v resultVariants
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("a2a: decode result: %w", err)
	}
	switch {
	case v.Kind == "status-update" && v.Status != nil:
		return joinParts(v.Status.Message.Parts), nil
	case v.Kind == "artifact-update" && v.Artifact != nil:
		return joinParts(v.Artifact.Parts), nil
	case len(v.Parts) > 0:
		return joinParts(v.Parts), nil
	case v.Message != nil:
		return joinParts(v.Message.Parts), nil
	default:
		return "", nil
	}
}

func joinParts(parts []messagePart) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
