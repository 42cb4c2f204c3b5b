// Package kernel runs agent code in a subprocess interpreter. The host
// and the kernel exchange newline-delimited JSON frames over the child's
// stdio: requests travel on the child's stdin, everything else comes back
// on its stdout, tagged with a logical channel.
//
// Namespace operations invoked inside the kernel are proxied back to the
// host as RPC riding the input channel: the kernel raises an
// input_request whose prompt is an rpc_request document, and the host
// answers with an input_reply carrying the rpc reply.
package kernel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Logical channels. One pipe carries all three; the tag keeps the
// host-side demultiplexer trivial.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
	ChannelStdin = "stdin"
)

// Frame types.
const (
	TypeExecuteRequest  = "execute_request"
	TypeExecuteReply    = "execute_reply"
	TypeResetRequest    = "reset_request"
	TypeResetReply      = "reset_reply"
	TypeShutdownRequest = "shutdown_request"
	TypeStream          = "stream"
	TypeExecuteResult   = "execute_result"
	TypeError           = "error"
	TypeInputRequest    = "input_request"
	TypeInputReply      = "input_reply"
)

// Frame is one message on the wire.
type Frame struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	MsgID   string          `json:"msg_id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ExecuteRequest asks the kernel to run a chunk of code.
type ExecuteRequest struct {
	Code      string `json:"code"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// ExecuteReply closes out an execute_request on the shell channel.
type ExecuteReply struct {
	Status    string `json:"status"` // "ok" or "error"
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"execution_time_ms"`
}

// Stream carries printed output on the iopub channel.
type Stream struct {
	Name string `json:"name"` // always "stdout"
	Text string `json:"text"`
}

// ExecuteResult carries the trailing-expression value on iopub.
type ExecuteResult struct {
	Value any `json:"value"`
}

// ErrorEvent carries a user-code failure on iopub.
type ErrorEvent struct {
	Message string `json:"message"`
}

// InputRequest asks the host for input; the prompt holds the rpc_request
// document.
type InputRequest struct {
	Prompt string `json:"prompt"`
}

// InputReply answers an input_request. Value holds the rpc reply
// document, or the empty string when the prompt was not an rpc_request.
type InputReply struct {
	Value string `json:"value"`
}

// RPCRequest is the document a kernel puts in an input_request prompt.
type RPCRequest struct {
	Type   string         `json:"type"` // always "rpc_request"
	ID     string         `json:"id"`
	Method string         `json:"method"` // e.g. "tools.call"
	Params map[string]any `json:"params,omitempty"`
}

// RPCError describes a failed namespace operation.
type RPCError struct {
	Namespace string `json:"namespace"`
	Operation string `json:"operation"`
	Message   string `json:"message"`
	Type      string `json:"type"` // the error kind
}

// RPCReply is the document the host puts in the input_reply value.
type RPCReply struct {
	ID     string    `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// maxFrameSize bounds a single frame. Artifact payloads ride inside
// frames, so the limit is generous.
const maxFrameSize = 64 << 20

// frameWriter serializes frames onto one writer. Safe for concurrent use:
// the kernel's RPC goroutine and its iopub emitter share the pipe.
type frameWriter struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

func newFrameWriter(w io.Writer) *frameWriter {
	bw := bufio.NewWriter(w)
	return &frameWriter{w: bw, enc: json.NewEncoder(bw)}
}

func (fw *frameWriter) write(f Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.enc.Encode(f); err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	return fw.w.Flush()
}

func (fw *frameWriter) writeContent(channel, frameType, msgID string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding %s content: %w", frameType, err)
	}
	return fw.write(Frame{Channel: channel, Type: frameType, MsgID: msgID, Content: raw})
}

// frameReader yields frames from one reader.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxFrameSize)
	return &frameReader{scanner: scanner}
}

// next returns the next frame, or io.EOF when the peer closed the pipe.
func (fr *frameReader) next() (Frame, error) {
	for fr.scanner.Scan() {
		line := fr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return Frame{}, fmt.Errorf("malformed frame: %w", err)
		}
		return f, nil
	}
	if err := fr.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

func decodeContent(f Frame, into any) error {
	if len(f.Content) == 0 {
		return fmt.Errorf("%s frame has no content", f.Type)
	}
	if err := json.Unmarshal(f.Content, into); err != nil {
		return fmt.Errorf("decoding %s content: %w", f.Type, err)
	}
	return nil
}
