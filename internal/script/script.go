// Package script hosts user-supplied JavaScript that provides a storage
// backend to the engines. A script defines a global `filesystem` object whose
// function properties implement the callback table consumed by hostfs, plus
// an optional global `root` naming the directory to operate in.
//
// Callbacks may be synchronous or async: an already-settled promise is
// unwrapped transparently. No event loop runs, so a promise that is still
// pending after the microtask queue drains is an error rather than a hang.
//
// An Engine owns one JavaScript runtime and must be used from a single
// goroutine.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/quirelabs/quire/internal/vfs"
	"github.com/quirelabs/quire/internal/vfs/hostfs"
)

var tableOps = []string{
	hostfs.OpReadToString,
	hostfs.OpWriteFile,
	hostfs.OpCreateNew,
	hostfs.OpDeleteFile,
	hostfs.OpExists,
	hostfs.OpIsDir,
	hostfs.OpCreateDirAll,
	hostfs.OpMoveFile,
	hostfs.OpListFiles,
	hostfs.OpListMDFiles,
	hostfs.OpReadBinary,
	hostfs.OpWriteBinary,
}

// Engine wraps a JavaScript runtime with a console wired to slog.
type Engine struct {
	vm    *goja.Runtime
	nudge *goja.Program
	log   *slog.Logger
}

// New returns a ready Engine.
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		vm: goja.New(),
		// Running an empty program drains the microtask queue, settling
		// promises whose jobs were queued by the last callback.
		nudge: goja.MustCompile("", "undefined", true),
		log:   log,
	}
	e.installConsole()
	return e
}

func (e *Engine) installConsole() {
	console := e.vm.NewObject()
	mk := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			e.log.Log(context.Background(), level, strings.Join(parts, " "), "source", "script")
			return goja.Undefined()
		}
	}
	console.Set("log", mk(slog.LevelInfo))
	console.Set("info", mk(slog.LevelInfo))
	console.Set("debug", mk(slog.LevelDebug))
	console.Set("warn", mk(slog.LevelWarn))
	console.Set("error", mk(slog.LevelError))
	e.vm.Set("console", console)
}

// Run compiles and evaluates src. Cancelling the context interrupts the
// script.
func (e *Engine) Run(ctx context.Context, name, src string) (v goja.Value, err error) {
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panicked: %v", r)
		}
	}()
	stop := e.interruptOn(ctx)
	defer stop()
	v, err = e.vm.RunProgram(prog)
	if err != nil {
		var ierr *goja.InterruptedError
		if errors.As(err, &ierr) {
			if cause := context.Cause(ctx); cause != nil {
				return nil, fmt.Errorf("script interrupted: %w", cause)
			}
			return nil, fmt.Errorf("script interrupted: %v", ierr.Value())
		}
		return nil, e.thrown(err)
	}
	return v, nil
}

// OpenWorkspace evaluates src and binds the script's `filesystem` object to
// the vfs contract. The returned root is the script's `root` global, or "."
// when it does not set one.
func (e *Engine) OpenWorkspace(ctx context.Context, name, src string) (vfs.FS, string, error) {
	if _, err := e.Run(ctx, name, src); err != nil {
		return nil, "", err
	}
	fsVal := e.vm.GlobalObject().Get("filesystem")
	fsys, err := e.FS(fsVal)
	if err != nil {
		return nil, "", err
	}
	root := "."
	if rv := e.vm.GlobalObject().Get("root"); rv != nil && !goja.IsUndefined(rv) && !goja.IsNull(rv) {
		root = rv.String()
	}
	return fsys, root, nil
}

// FS builds a filesystem from an object whose function properties implement
// the callback table. Properties that are absent leave the operation
// uncapable; a property that exists but is not a function is an error.
func (e *Engine) FS(v goja.Value) (vfs.FS, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errors.New("script defines no filesystem object")
	}
	obj := v.ToObject(e.vm)
	table := map[string]hostfs.Callback{}
	for _, op := range tableOps {
		prop := obj.Get(op)
		if prop == nil || goja.IsUndefined(prop) || goja.IsNull(prop) {
			continue
		}
		fn, ok := goja.AssertFunction(prop)
		if !ok {
			return nil, fmt.Errorf("filesystem.%s is not a function", op)
		}
		table[op] = func(args ...any) (any, error) {
			gargs := make([]goja.Value, len(args))
			for i, a := range args {
				gargs[i] = e.toValue(a)
			}
			res, err := fn(goja.Undefined(), gargs...)
			if err != nil {
				return nil, e.thrown(err)
			}
			return e.settle(res)
		}
	}
	return hostfs.New(table), nil
}

func (e *Engine) toValue(a any) goja.Value {
	if b, ok := a.([]byte); ok {
		return e.vm.ToValue(e.vm.NewArrayBuffer(b))
	}
	return e.vm.ToValue(a)
}

// settle unwraps a possibly-promised result. An async callback whose promise
// has not settled by the time the microtask queue drains cannot make
// progress without an event loop, so it fails rather than blocking forever.
func (e *Engine) settle(res goja.Value) (any, error) {
	p, ok := res.Export().(*goja.Promise)
	if !ok {
		return exportValue(res), nil
	}
	if p.State() == goja.PromiseStatePending {
		if _, err := e.vm.RunProgram(e.nudge); err != nil {
			return nil, fmt.Errorf("draining microtasks: %w", err)
		}
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return exportValue(p.Result()), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", valueString(p.Result()))
	default:
		return nil, errors.New("promise still pending; the script host runs no event loop")
	}
}

// thrown converts a JavaScript failure into a plain error by stringifying
// the thrown value.
func (e *Engine) thrown(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("script threw: %s", valueString(ex.Value()))
	}
	return err
}

func (e *Engine) interruptOn(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.vm.Interrupt(context.Cause(ctx))
		case <-done:
		}
	}()
	return func() {
		close(done)
		e.vm.ClearInterrupt()
	}
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	ex := v.Export()
	if ab, ok := ex.(goja.ArrayBuffer); ok {
		return ab.Bytes()
	}
	return ex
}

func valueString(v goja.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}
