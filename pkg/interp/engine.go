package interp

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/codemode-ai/codemode/pkg/errors"
)

// fileOpts is the language surface user code gets: sets, while loops,
// top-level control flow, global rebinding, and recursion are all on,
// matching what agent-written snippets expect from an interactive
// interpreter.
var fileOpts = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Engine executes code chunks against one persistent globals environment.
// Chunks have REPL semantics: names bound by one Exec are visible to the
// next, and later chunks may rebind them. Execution is serialized; an
// Engine is one logical interpreter.
type Engine struct {
	provider ResourceProvider

	mu      sync.Mutex
	globals starlark.StringDict
}

// New creates an engine with the four namespaces and the sleep builtin
// injected.
func New(provider ResourceProvider) *Engine {
	e := &Engine{provider: provider}
	e.globals = e.baseGlobals()
	return e
}

func (e *Engine) baseGlobals() starlark.StringDict {
	return starlark.StringDict{
		"tools":     newToolsNamespace(e.provider),
		"skills":    newSkillsNamespace(e.provider),
		"artifacts": newArtifactsNamespace(e.provider),
		"deps":      newDepsNamespace(e.provider),
		"sleep":     sleepBuiltin(),
	}
}

// sleepBuiltin suspends for the given number of seconds, waking early
// when the exec context is cancelled. Timeout tests and agent backoff
// loops depend on it.
func sleepBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("sleep", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var seconds starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seconds", &seconds); err != nil {
			return nil, err
		}
		secs, ok := starlark.AsFloat(seconds)
		if !ok || secs < 0 {
			return nil, fmt.Errorf("sleep: seconds must be a non-negative number")
		}
		ctx := threadCtx(thread)
		select {
		case <-time.After(time.Duration(secs * float64(time.Second))):
			return starlark.None, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// Exec runs one chunk of code. The value of a trailing expression
// statement, if any, is returned as a JSON-safe Go value; stdout is
// whatever the chunk printed. A ctx deadline genuinely cancels the
// evaluation via Thread.Cancel; the goroutine does not linger.
func (e *Engine) Exec(ctx context.Context, code string) (any, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stdout strings.Builder
	thread := &starlark.Thread{
		Name: "exec",
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteString(msg)
			stdout.WriteByte('\n')
		},
	}
	thread.SetLocal(ctxLocalKey, ctx)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("execution cancelled")
		case <-watchDone:
		}
	}()

	body, trailing, err := splitTrailingExpr(code)
	if err != nil {
		return nil, stdout.String(), errors.New(errors.KindInvalidSource, "code does not parse", err)
	}

	if strings.TrimSpace(body) != "" {
		f, err := fileOpts.Parse("exec.star", body, 0)
		if err != nil {
			return nil, stdout.String(), errors.New(errors.KindInvalidSource, "code does not parse", err)
		}
		if err := starlark.ExecREPLChunk(f, thread, e.globals); err != nil {
			return nil, stdout.String(), e.mapError(ctx, err)
		}
	}

	var value any
	if strings.TrimSpace(trailing) != "" {
		result, err := starlark.EvalOptions(fileOpts, thread, "exec.star", trailing, e.globals)
		if err != nil {
			return nil, stdout.String(), e.mapError(ctx, err)
		}
		value = ToGo(result)
	}
	return value, stdout.String(), nil
}

func (*Engine) mapError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeout("execution timed out", err)
	}
	if ctx.Err() == context.Canceled {
		return errors.New(errors.KindTimeout, "execution cancelled", err)
	}
	var evalErr *starlark.EvalError
	if stdErrors.As(err, &evalErr) {
		return errors.New(errors.KindCallFailed, evalErr.Error(), nil)
	}
	return err
}

// Reset rebuilds the globals, keeping exactly the injected namespaces and
// builtins. Everything user code defined is gone.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals = e.baseGlobals()
}

// GlobalNames returns the current global bindings, for diagnostics.
func (e *Engine) GlobalNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globals.Keys()
}

// EvalSkill runs a skill source in a fresh thread sharing the engine's
// provider but not its globals, then calls its run function with the
// given keyword arguments. This is how skills.invoke works everywhere:
// a skill never sees the session's user-defined names.
func EvalSkill(ctx context.Context, provider ResourceProvider, name, source string, kwargs map[string]any) (any, error) {
	thread := &starlark.Thread{Name: "skill:" + name}
	thread.SetLocal(ctxLocalKey, ctx)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("skill cancelled")
		case <-watchDone:
		}
	}()

	predeclared := starlark.StringDict{
		"tools":     newToolsNamespace(provider),
		"skills":    newSkillsNamespace(provider),
		"artifacts": newArtifactsNamespace(provider),
		"deps":      newDepsNamespace(provider),
		"sleep":     sleepBuiltin(),
	}
	globals, err := starlark.ExecFileOptions(fileOpts, thread, name+".py", source, predeclared)
	if err != nil {
		return nil, errors.New(errors.KindCallFailed, "skill "+name+" failed to load", err)
	}

	runFn, ok := globals["run"].(starlark.Callable)
	if !ok {
		return nil, errors.Newf(errors.KindInvalidSource, "skill %q does not define a run function", name)
	}

	callKwargs := make([]starlark.Tuple, 0, len(kwargs))
	for key, value := range kwargs {
		converted, err := ToStarlark(value)
		if err != nil {
			return nil, errors.New(errors.KindCallFailed, "skill "+name+" argument "+key, err)
		}
		callKwargs = append(callKwargs, starlark.Tuple{starlark.String(key), converted})
	}

	result, err := starlark.Call(thread, runFn, nil, callKwargs)
	if err != nil {
		return nil, errors.New(errors.KindCallFailed, "skill "+name+" failed", err)
	}
	return ToGo(result), nil
}

// splitTrailingExpr separates a chunk into everything before its final
// expression statement and the expression itself, so the expression can
// be evaluated for its value.
func splitTrailingExpr(code string) (body, trailing string, err error) {
	f, err := fileOpts.Parse("exec.star", code, 0)
	if err != nil {
		return "", "", err
	}
	if len(f.Stmts) == 0 {
		return code, "", nil
	}
	exprStmt, ok := f.Stmts[len(f.Stmts)-1].(*syntax.ExprStmt)
	if !ok {
		return code, "", nil
	}
	start, _ := exprStmt.Span()
	offset := positionOffset(code, int(start.Line), int(start.Col))
	if offset < 0 {
		return code, "", nil
	}
	return code[:offset], code[offset:], nil
}

// positionOffset converts a 1-based line/column (columns counted in
// runes, as the Starlark scanner reports them) into a byte offset.
func positionOffset(code string, line, col int) int {
	curLine := 1
	curCol := 1
	for i, r := range code {
		if curLine == line && curCol == col {
			return i
		}
		if r == '\n' {
			curLine++
			curCol = 1
		} else {
			curCol++
		}
	}
	if curLine == line && curCol == col {
		return len(code)
	}
	return -1
}
