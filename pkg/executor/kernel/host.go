package kernel

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"io"
	"strings"
	"time"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/interp"
	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/types"
)

// replyGrace is how long after the code's own deadline the host waits for
// the kernel to deliver its reply before declaring the interpreter dead.
const replyGrace = 5 * time.Second

// host speaks the frame protocol with one kernel process and dispatches
// its RPC onto the resource provider.
type host struct {
	out      *frameWriter
	frames   chan Frame
	provider interp.ResourceProvider
}

func newHost(stdin io.Writer, stdout io.Reader, provider interp.ResourceProvider) *host {
	h := &host{
		out:      newFrameWriter(stdin),
		frames:   make(chan Frame, 16),
		provider: provider,
	}
	go h.readLoop(stdout)
	return h
}

func (h *host) readLoop(stdout io.Reader) {
	in := newFrameReader(stdout)
	for {
		f, err := in.next()
		if err != nil {
			if err != io.EOF {
				logger.Warnw("kernel stdout read failed", "error", err)
			}
			close(h.frames)
			return
		}
		h.frames <- f
	}
}

// execute runs one chunk on the kernel and collects the result. The pipe
// is FIFO, so iopub output for a request always lands before its reply.
func (h *host) execute(ctx context.Context, msgID, code string, timeout time.Duration) (*types.ExecutionResult, error) {
	if err := h.out.writeContent(ChannelShell, TypeExecuteRequest, msgID, ExecuteRequest{
		Code:      code,
		TimeoutMS: timeout.Milliseconds(),
	}); err != nil {
		return nil, errors.NewInterpreterDied("sending execute request", err)
	}

	deadline := time.NewTimer(timeout + replyGrace)
	defer deadline.Stop()

	result := &types.ExecutionResult{}
	for {
		select {
		case f, ok := <-h.frames:
			if !ok {
				return nil, errors.NewInterpreterDied("interpreter exited mid-execution", nil)
			}
			done, err := h.handleFrame(ctx, f, msgID, result)
			if err != nil {
				return nil, err
			}
			if done {
				return result, nil
			}
		case <-deadline.C:
			return nil, errors.NewInterpreterDied("interpreter missed the execution deadline", nil)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (h *host) handleFrame(ctx context.Context, f Frame, msgID string, result *types.ExecutionResult) (bool, error) {
	switch f.Type {
	case TypeInputRequest:
		return false, h.answerInput(ctx, f)
	case TypeStream:
		var stream Stream
		if err := decodeContent(f, &stream); err == nil && f.MsgID == msgID {
			result.Stdout += stream.Text
		}
	case TypeExecuteResult:
		var res ExecuteResult
		if err := decodeContent(f, &res); err == nil && f.MsgID == msgID {
			result.Value = res.Value
		}
	case TypeError:
		// The failure also rides the execute_reply; iopub is informational.
	case TypeExecuteReply:
		if f.MsgID != msgID {
			return false, nil
		}
		var reply ExecuteReply
		if err := decodeContent(f, &reply); err != nil {
			return false, errors.NewInternal("decoding execute reply", err)
		}
		result.ElapsedMS = reply.ElapsedMS
		if reply.Status != "ok" {
			result.Value = nil
			result.Error = reply.Error
		}
		return true, nil
	default:
		logger.Debugw("ignoring unexpected kernel frame", "type", f.Type)
	}
	return false, nil
}

// reset asks the kernel to drop user state, servicing any interleaved
// frames until the reply arrives.
func (h *host) reset(ctx context.Context, msgID string) error {
	if err := h.out.writeContent(ChannelShell, TypeResetRequest, msgID, struct{}{}); err != nil {
		return errors.NewInterpreterDied("sending reset request", err)
	}
	deadline := time.NewTimer(replyGrace)
	defer deadline.Stop()
	for {
		select {
		case f, ok := <-h.frames:
			if !ok {
				return errors.NewInterpreterDied("interpreter exited during reset", nil)
			}
			if f.Type == TypeResetReply && f.MsgID == msgID {
				return nil
			}
		case <-deadline.C:
			return errors.NewInterpreterDied("interpreter missed the reset deadline", nil)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// shutdown asks the kernel to exit; best effort.
func (h *host) shutdown() {
	_ = h.out.writeContent(ChannelShell, TypeShutdownRequest, "", struct{}{})
}

// answerInput replies to an input_request. Prompts that do not carry an
// rpc_request document get an empty-string reply, matching interactive
// input semantics for code that calls input() without a host terminal.
func (h *host) answerInput(ctx context.Context, f Frame) error {
	var req InputRequest
	if err := decodeContent(f, &req); err != nil {
		return errors.NewInternal("decoding input request", err)
	}

	var rpcReq RPCRequest
	if err := json.Unmarshal([]byte(req.Prompt), &rpcReq); err != nil || rpcReq.Type != "rpc_request" {
		return h.out.writeContent(ChannelStdin, TypeInputReply, f.MsgID, InputReply{Value: ""})
	}

	reply := dispatchRPC(ctx, h.provider, rpcReq)
	doc, err := json.Marshal(reply)
	if err != nil {
		return errors.NewInternal("encoding rpc reply", err)
	}
	return h.out.writeContent(ChannelStdin, TypeInputReply, f.MsgID, InputReply{Value: string(doc)})
}

// dispatchRPC maps one rpc_request onto the provider.
func dispatchRPC(ctx context.Context, provider interp.ResourceProvider, req RPCRequest) RPCReply {
	result, err := callMethod(ctx, provider, req.Method, req.Params)
	if err != nil {
		return RPCReply{ID: req.ID, Error: rpcError(req.Method, err)}
	}
	return RPCReply{ID: req.ID, Result: result}
}

func callMethod(ctx context.Context, p interp.ResourceProvider, method string, params map[string]any) (any, error) {
	str := func(key string) string {
		s, _ := params[key].(string)
		return s
	}
	num := func(key string) int {
		n, _ := params[key].(float64)
		return int(n)
	}
	obj := func(key string) map[string]any {
		m, _ := params[key].(map[string]any)
		return m
	}

	switch method {
	case "tools.list":
		return p.ToolsList(ctx)
	case "tools.search":
		return p.ToolsSearch(ctx, str("query"), num("limit"))
	case "tools.call":
		return p.ToolsCall(ctx, str("name"), str("callable"), obj("args"))
	case "tools.list_recipes":
		return p.ToolsRecipes(ctx, str("name"))

	case "skills.list":
		return p.SkillsList(ctx)
	case "skills.search":
		return p.SkillsSearch(ctx, str("query"), num("limit"))
	case "skills.get":
		return p.SkillsGet(ctx, str("name"))
	case "skills.create":
		return p.SkillsCreate(ctx, str("name"), str("source"), str("description"))
	case "skills.delete":
		return nil, p.SkillsDelete(ctx, str("name"))
	case "skills.invoke":
		return p.SkillsInvoke(ctx, str("name"), obj("kwargs"))

	case "artifacts.list":
		return p.ArtifactsList(ctx)
	case "artifacts.load":
		return p.ArtifactsLoad(ctx, str("name"))
	case "artifacts.save":
		return p.ArtifactsSave(ctx, str("name"), params["data"], str("description"), obj("metadata"))
	case "artifacts.get":
		return p.ArtifactsGet(ctx, str("name"))
	case "artifacts.delete":
		return nil, p.ArtifactsDelete(ctx, str("name"))
	case "artifacts.exists":
		return p.ArtifactsExists(ctx, str("name"))
	case "artifacts.path":
		return p.ArtifactsPath(), nil

	case "deps.list":
		return p.DepsList(ctx)
	case "deps.add":
		return nil, p.DepsAdd(ctx, str("package"))
	case "deps.remove":
		return p.DepsRemove(ctx, str("package"))
	case "deps.sync":
		return p.DepsSync(ctx)
	}
	return nil, errors.Newf(errors.KindNotFound, "unknown rpc method %q", method)
}

func rpcError(method string, err error) *RPCError {
	namespace, operation := method, ""
	if i := strings.IndexByte(method, '.'); i >= 0 {
		namespace, operation = method[:i], method[i+1:]
	}
	message := err.Error()
	var classified *errors.Error
	if stdErrors.As(err, &classified) {
		message = classified.Message
	}
	return &RPCError{
		Namespace: namespace,
		Operation: operation,
		Message:   message,
		Type:      errors.KindOf(err),
	}
}
