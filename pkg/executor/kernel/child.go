package kernel

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/interp"
	"github.com/codemode-ai/codemode/pkg/logger"
)

// Serve runs the kernel loop: read requests from stdin, execute them, and
// report on stdout. It returns when the host closes the pipe or sends a
// shutdown_request. This is the body of the `codemode kernel` command;
// nothing may print to stdout except the frame writer.
func Serve(stdin io.Reader, stdout io.Writer) error {
	out := newFrameWriter(stdout)
	k := &kernelLoop{
		out:      out,
		requests: make(chan Frame, 4),
		replies:  make(chan InputReply, 1),
	}
	k.engine = interp.New(&rpcProvider{loop: k})

	go k.readLoop(stdin)
	return k.serve()
}

type kernelLoop struct {
	engine   *interp.Engine
	out      *frameWriter
	requests chan Frame
	replies  chan InputReply

	artifactsPath string
	pathKnown     bool
}

// readLoop demultiplexes the host's frames: input replies go straight to
// the pending RPC, everything else queues for the serve loop.
func (k *kernelLoop) readLoop(stdin io.Reader) {
	in := newFrameReader(stdin)
	for {
		f, err := in.next()
		if err != nil {
			if err != io.EOF {
				logger.Warnw("kernel stdin read failed", "error", err)
			}
			close(k.requests)
			return
		}
		if f.Type == TypeInputReply {
			var reply InputReply
			if err := decodeContent(f, &reply); err != nil {
				logger.Warnw("kernel dropping bad input_reply", "error", err)
				continue
			}
			k.replies <- reply
			continue
		}
		k.requests <- f
	}
}

func (k *kernelLoop) serve() error {
	for f := range k.requests {
		switch f.Type {
		case TypeExecuteRequest:
			k.handleExecute(f)
		case TypeResetRequest:
			k.engine.Reset()
			if err := k.out.writeContent(ChannelShell, TypeResetReply, f.MsgID, struct{}{}); err != nil {
				return err
			}
		case TypeShutdownRequest:
			return nil
		default:
			logger.Warnw("kernel ignoring unknown frame", "type", f.Type)
		}
	}
	return nil
}

func (k *kernelLoop) handleExecute(f Frame) {
	var req ExecuteRequest
	if err := decodeContent(f, &req); err != nil {
		_ = k.out.writeContent(ChannelShell, TypeExecuteReply, f.MsgID, ExecuteReply{
			Status: "error", Error: err.Error(),
		})
		return
	}

	// A timed-out run can abandon an RPC mid-flight; the host's late reply
	// must not be mistaken for an answer in this run.
	k.drainReplies()

	ctx := context.Background()
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	started := time.Now()
	value, stdout, err := k.engine.Exec(ctx, req.Code)
	elapsed := time.Since(started).Milliseconds()

	if stdout != "" {
		_ = k.out.writeContent(ChannelIOPub, TypeStream, f.MsgID, Stream{Name: "stdout", Text: stdout})
	}
	reply := ExecuteReply{Status: "ok", ElapsedMS: elapsed}
	if err != nil {
		reply.Status = "error"
		reply.Error = err.Error()
		_ = k.out.writeContent(ChannelIOPub, TypeError, f.MsgID, ErrorEvent{Message: err.Error()})
	} else if value != nil {
		_ = k.out.writeContent(ChannelIOPub, TypeExecuteResult, f.MsgID, ExecuteResult{Value: value})
	}
	_ = k.out.writeContent(ChannelShell, TypeExecuteReply, f.MsgID, reply)
}

// rpc raises an input_request carrying the method call and blocks until
// the host's input_reply arrives.
func (k *kernelLoop) rpc(ctx context.Context, method string, params map[string]any) (any, error) {
	req := RPCRequest{Type: "rpc_request", ID: uuid.NewString(), Method: method, Params: params}
	doc, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewInternal("encoding rpc request", err)
	}
	if err := k.out.writeContent(ChannelStdin, TypeInputRequest, req.ID, InputRequest{Prompt: string(doc)}); err != nil {
		return nil, errors.NewInterpreterDied("writing rpc request", err)
	}

	var reply RPCReply
	for {
		var raw InputReply
		select {
		case raw = <-k.replies:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if raw.Value == "" {
			return nil, errors.NewInternal("host returned no rpc reply", nil)
		}
		if err := json.Unmarshal([]byte(raw.Value), &reply); err != nil {
			return nil, errors.NewInternal("decoding rpc reply", err)
		}
		if reply.ID == req.ID {
			break
		}
		// Late answer to a call an earlier timeout abandoned.
		logger.Warnw("kernel discarding stale rpc reply", "reply_id", reply.ID, "want_id", req.ID)
	}
	if reply.Error != nil {
		kind := reply.Error.Type
		if kind == "" {
			kind = errors.KindInternal
		}
		return nil, errors.New(kind, reply.Error.Message, nil)
	}
	return reply.Result, nil
}

// drainReplies discards any buffered input replies. Only called between
// runs, when no RPC is pending.
func (k *kernelLoop) drainReplies() {
	for {
		select {
		case <-k.replies:
			logger.Warnw("kernel dropped stale rpc reply from previous run")
		default:
			return
		}
	}
}

// rpcProvider satisfies the namespace contract by proxying every
// operation to the host.
type rpcProvider struct {
	loop *kernelLoop
}

func (p *rpcProvider) ToolsList(ctx context.Context) (any, error) {
	return p.loop.rpc(ctx, "tools.list", nil)
}

func (p *rpcProvider) ToolsSearch(ctx context.Context, query string, limit int) (any, error) {
	return p.loop.rpc(ctx, "tools.search", map[string]any{"query": query, "limit": limit})
}

func (p *rpcProvider) ToolsCall(ctx context.Context, name, callable string, args map[string]any) (any, error) {
	return p.loop.rpc(ctx, "tools.call", map[string]any{"name": name, "callable": callable, "args": args})
}

func (p *rpcProvider) ToolsRecipes(ctx context.Context, name string) (any, error) {
	return p.loop.rpc(ctx, "tools.list_recipes", map[string]any{"name": name})
}

func (p *rpcProvider) SkillsList(ctx context.Context) (any, error) {
	return p.loop.rpc(ctx, "skills.list", nil)
}

func (p *rpcProvider) SkillsSearch(ctx context.Context, query string, limit int) (any, error) {
	return p.loop.rpc(ctx, "skills.search", map[string]any{"query": query, "limit": limit})
}

func (p *rpcProvider) SkillsGet(ctx context.Context, name string) (any, error) {
	return p.loop.rpc(ctx, "skills.get", map[string]any{"name": name})
}

func (p *rpcProvider) SkillsCreate(ctx context.Context, name, source, description string) (any, error) {
	return p.loop.rpc(ctx, "skills.create", map[string]any{"name": name, "source": source, "description": description})
}

func (p *rpcProvider) SkillsDelete(ctx context.Context, name string) error {
	_, err := p.loop.rpc(ctx, "skills.delete", map[string]any{"name": name})
	return err
}

func (p *rpcProvider) SkillsInvoke(ctx context.Context, name string, kwargs map[string]any) (any, error) {
	return p.loop.rpc(ctx, "skills.invoke", map[string]any{"name": name, "kwargs": kwargs})
}

func (p *rpcProvider) ArtifactsList(ctx context.Context) (any, error) {
	return p.loop.rpc(ctx, "artifacts.list", nil)
}

func (p *rpcProvider) ArtifactsLoad(ctx context.Context, name string) (any, error) {
	return p.loop.rpc(ctx, "artifacts.load", map[string]any{"name": name})
}

func (p *rpcProvider) ArtifactsSave(ctx context.Context, name string, data any, description string, metadata map[string]any) (any, error) {
	return p.loop.rpc(ctx, "artifacts.save", map[string]any{
		"name": name, "data": data, "description": description, "metadata": metadata,
	})
}

func (p *rpcProvider) ArtifactsGet(ctx context.Context, name string) (any, error) {
	return p.loop.rpc(ctx, "artifacts.get", map[string]any{"name": name})
}

func (p *rpcProvider) ArtifactsDelete(ctx context.Context, name string) error {
	_, err := p.loop.rpc(ctx, "artifacts.delete", map[string]any{"name": name})
	return err
}

func (p *rpcProvider) ArtifactsExists(ctx context.Context, name string) (bool, error) {
	result, err := p.loop.rpc(ctx, "artifacts.exists", map[string]any{"name": name})
	if err != nil {
		return false, err
	}
	exists, _ := result.(bool)
	return exists, nil
}

func (p *rpcProvider) ArtifactsPath() string {
	if !p.loop.pathKnown {
		result, err := p.loop.rpc(context.Background(), "artifacts.path", nil)
		if err != nil {
			return ""
		}
		p.loop.artifactsPath, _ = result.(string)
		p.loop.pathKnown = true
	}
	return p.loop.artifactsPath
}

func (p *rpcProvider) DepsList(ctx context.Context) (any, error) {
	return p.loop.rpc(ctx, "deps.list", nil)
}

func (p *rpcProvider) DepsAdd(ctx context.Context, pkg string) error {
	_, err := p.loop.rpc(ctx, "deps.add", map[string]any{"package": pkg})
	return err
}

func (p *rpcProvider) DepsRemove(ctx context.Context, pkg string) (any, error) {
	return p.loop.rpc(ctx, "deps.remove", map[string]any{"package": pkg})
}

func (p *rpcProvider) DepsSync(ctx context.Context) (any, error) {
	return p.loop.rpc(ctx, "deps.sync", nil)
}
