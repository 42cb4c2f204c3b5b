package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemode-ai/codemode/pkg/deps"
	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/executor"
	"github.com/codemode-ai/codemode/pkg/skills"
	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/tools"
	"github.com/codemode-ai/codemode/pkg/types"
)

type echoAdapter struct{}

func (echoAdapter) Tools(context.Context) ([]tools.Tool, error) {
	return []tools.Tool{{
		Name:        "echo",
		Description: "Echoes its arguments back",
		Callables:   []tools.Callable{{Name: "say"}},
	}}, nil
}

func (echoAdapter) Call(_ context.Context, _, _ string, args map[string]any) (any, error) {
	return args, nil
}

func (echoAdapter) Close() error { return nil }

// newLoopback wires Serve and a host over in-memory pipes: the full
// protocol path without a child process.
func newLoopback(t *testing.T) *host {
	t.Helper()
	ctx := context.Background()

	backend := storage.NewFileBackend(t.TempDir())
	registry := tools.NewRegistry(nil)
	require.NoError(t, registry.RegisterAdapter(ctx, echoAdapter{}))
	t.Cleanup(func() { _ = registry.Close() })
	library := skills.NewLibrary(backend.SkillStore())
	provider := executor.NewStorageProvider(registry, library, backend.ArtifactStore(), backend.DepsStore(), deps.NoopInstaller{})

	hostToKernel, hostWriter := io.Pipe()
	kernelToHost, kernelWriter := io.Pipe()
	go func() { _ = Serve(hostToKernel, kernelWriter) }()

	h := newHost(hostWriter, kernelToHost, provider)
	t.Cleanup(func() {
		h.shutdown()
		_ = hostWriter.Close()
	})
	return h
}

func runChunk(t *testing.T, h *host, code string) *types.ExecutionResult {
	t.Helper()
	result, err := h.execute(context.Background(), t.Name()+code, code, 10*time.Second)
	require.NoError(t, err)
	return result
}

func TestExecuteRoundTrip(t *testing.T) {
	h := newLoopback(t)

	result := runChunk(t, h, "x = 40\nx + 2")
	assert.True(t, result.Success())
	// Values cross the pipe as JSON, so integers come back as float64.
	assert.Equal(t, float64(42), result.Value)

	result = runChunk(t, h, `print("hello")`)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Nil(t, result.Value)
}

func TestExecuteStatePersists(t *testing.T) {
	h := newLoopback(t)

	runChunk(t, h, "counter = 1")
	result := runChunk(t, h, "counter + 1")
	assert.Equal(t, float64(2), result.Value)
}

func TestExecuteUserError(t *testing.T) {
	h := newLoopback(t)

	result := runChunk(t, h, "1 / 0")
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "division by zero")
}

func TestExecuteTimeout(t *testing.T) {
	h := newLoopback(t)

	started := time.Now()
	result, err := h.execute(context.Background(), "timeout", "sleep(30)", 300*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Less(t, time.Since(started), replyGrace)
}

func TestRPCToolCall(t *testing.T) {
	h := newLoopback(t)

	result := runChunk(t, h, `tools.call("echo", "say", {"msg": "hi"})`)
	require.True(t, result.Success(), result.Error)
	assert.Equal(t, map[string]any{"msg": "hi"}, result.Value)
}

func TestRPCErrorKindSurvivesTheWire(t *testing.T) {
	h := newLoopback(t)

	result := runChunk(t, h, `tools.call("missing", "say", {})`)
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "not_found")
}

func TestRPCSkillsAndArtifacts(t *testing.T) {
	h := newLoopback(t)

	result := runChunk(t, h, `skills.create("doubler", "def run(n):\n    return n * 2\n", description="Double a number.")`)
	require.True(t, result.Success(), result.Error)

	result = runChunk(t, h, `skills.invoke("doubler", n=21)`)
	require.True(t, result.Success(), result.Error)
	assert.Equal(t, float64(42), result.Value)

	result = runChunk(t, h, `artifacts.save("report.txt", "done", description="Report")
artifacts.load("report.txt")`)
	require.True(t, result.Success(), result.Error)
	assert.Equal(t, "done", result.Value)
}

func TestRPCSkipsMismatchedReply(t *testing.T) {
	t.Parallel()

	outRead, outWrite := io.Pipe()
	k := &kernelLoop{out: newFrameWriter(outWrite), replies: make(chan InputReply, 1)}

	stale, err := json.Marshal(RPCReply{ID: "abandoned-call", Result: "wrong answer"})
	require.NoError(t, err)
	k.replies <- InputReply{Value: string(stale)}

	// Answer the outgoing request with its own id once it appears.
	go func() {
		in := newFrameReader(outRead)
		f, err := in.next()
		if err != nil {
			return
		}
		var ir InputRequest
		if decodeContent(f, &ir) != nil {
			return
		}
		var req RPCRequest
		if json.Unmarshal([]byte(ir.Prompt), &req) != nil {
			return
		}
		good, _ := json.Marshal(RPCReply{ID: req.ID, Result: "right answer"})
		k.replies <- InputReply{Value: string(good)}
	}()

	result, err := k.rpc(context.Background(), "tools.list", nil)
	require.NoError(t, err)
	assert.Equal(t, "right answer", result)
}

// nextFrameOfType services the kernel's stdout until a frame of the
// wanted type arrives, skipping everything else.
func nextFrameOfType(t *testing.T, r *frameReader, frameType string) Frame {
	t.Helper()
	for {
		f, err := r.next()
		require.NoError(t, err)
		if f.Type == frameType {
			return f
		}
	}
}

func TestLateReplyDoesNotLeakAcrossRuns(t *testing.T) {
	t.Parallel()

	kernelIn, hostOut := io.Pipe()
	hostIn, kernelOut := io.Pipe()
	go func() { _ = Serve(kernelIn, kernelOut) }()
	t.Cleanup(func() { _ = hostOut.Close() })

	w := newFrameWriter(hostOut)
	r := newFrameReader(hostIn)

	// Run 1 blocks on an RPC whose reply we withhold until after the
	// run's deadline has already failed it.
	require.NoError(t, w.writeContent(ChannelShell, TypeExecuteRequest, "run-1", ExecuteRequest{
		Code: "tools.list()", TimeoutMS: 200,
	}))
	f := nextFrameOfType(t, r, TypeInputRequest)
	var ir InputRequest
	require.NoError(t, decodeContent(f, &ir))
	var abandoned RPCRequest
	require.NoError(t, json.Unmarshal([]byte(ir.Prompt), &abandoned))

	f = nextFrameOfType(t, r, TypeExecuteReply)
	var reply1 ExecuteReply
	require.NoError(t, decodeContent(f, &reply1))
	require.Equal(t, "error", reply1.Status)

	late, err := json.Marshal(RPCReply{ID: abandoned.ID, Result: "stale tools result"})
	require.NoError(t, err)
	require.NoError(t, w.writeContent(ChannelStdin, TypeInputReply, f.MsgID, InputReply{Value: string(late)}))

	// Run 2 must get its own answer, not run 1's.
	require.NoError(t, w.writeContent(ChannelShell, TypeExecuteRequest, "run-2", ExecuteRequest{
		Code: "skills.list()", TimeoutMS: 10000,
	}))
	f = nextFrameOfType(t, r, TypeInputRequest)
	require.NoError(t, decodeContent(f, &ir))
	var current RPCRequest
	require.NoError(t, json.Unmarshal([]byte(ir.Prompt), &current))
	assert.Equal(t, "skills.list", current.Method)

	fresh, err := json.Marshal(RPCReply{ID: current.ID, Result: "fresh skills result"})
	require.NoError(t, err)
	require.NoError(t, w.writeContent(ChannelStdin, TypeInputReply, f.MsgID, InputReply{Value: string(fresh)}))

	f = nextFrameOfType(t, r, TypeExecuteResult)
	var result ExecuteResult
	require.NoError(t, decodeContent(f, &result))
	assert.Equal(t, "fresh skills result", result.Value)
}

func TestReset(t *testing.T) {
	h := newLoopback(t)

	runChunk(t, h, "secret = 7")
	require.NoError(t, h.reset(context.Background(), "reset-1"))

	result := runChunk(t, h, "secret")
	assert.Contains(t, result.Error, "undefined")
}

func TestDispatchUnknownMethod(t *testing.T) {
	t.Parallel()

	reply := dispatchRPC(context.Background(), nil, RPCRequest{
		Type: "rpc_request", ID: "1", Method: "tools.explode",
	})
	require.NotNil(t, reply.Error)
	assert.Equal(t, "tools", reply.Error.Namespace)
	assert.Equal(t, "explode", reply.Error.Operation)
	assert.Equal(t, errors.KindNotFound, reply.Error.Type)
}

func TestAnswerInputNonRPCPrompt(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	h := &host{out: newFrameWriter(&out), frames: make(chan Frame)}

	prompt, err := json.Marshal(InputRequest{Prompt: "what is your name?"})
	require.NoError(t, err)
	require.NoError(t, h.answerInput(context.Background(), Frame{
		Channel: ChannelStdin, Type: TypeInputRequest, MsgID: "q1", Content: prompt,
	}))

	var f Frame
	require.NoError(t, json.Unmarshal(out.Bytes(), &f))
	assert.Equal(t, TypeInputReply, f.Type)
	var reply InputReply
	require.NoError(t, decodeContent(f, &reply))
	assert.Equal(t, "", reply.Value)
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := newFrameWriter(&buf)
	require.NoError(t, w.writeContent(ChannelShell, TypeExecuteRequest, "m1", ExecuteRequest{Code: "1", TimeoutMS: 500}))
	require.NoError(t, w.writeContent(ChannelIOPub, TypeStream, "m1", Stream{Name: "stdout", Text: "hi\n"}))

	r := newFrameReader(strings.NewReader(buf.String()))
	f, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, ChannelShell, f.Channel)
	var req ExecuteRequest
	require.NoError(t, decodeContent(f, &req))
	assert.Equal(t, int64(500), req.TimeoutMS)

	f, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, TypeStream, f.Type)

	_, err = r.next()
	assert.Equal(t, io.EOF, err)
}

func TestExecutorLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := New(nil)
	_, err := e.Run(ctx, "1", 0)
	assert.True(t, errors.IsUnavailable(err))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.True(t, errors.IsUnavailable(e.Reset(ctx)))

	assert.True(t, e.Supports(executor.CapProcessIsolation))
	assert.True(t, e.Supports(executor.CapDepsInstall))
	assert.False(t, e.Supports(executor.CapNetworkIsolation))
}
