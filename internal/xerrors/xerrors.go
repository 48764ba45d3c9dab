// Package xerrors wraps errors with caller positions so the logger can
// render error links and stack traces without every call site doing it.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// marker implemented by every wrapper in this package, the logger skips
// these when classifying the surface error type
type wrapper interface{ IsXerrorsWrapper() }

var _ wrapper = (*withStack)(nil)

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

// skip counts frames above the caller of captureStack
func captureStack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: captureStack(skip)}
}

// New returns an error carrying the full stack of its caller.
func New(msg string) error { return withStackSkip(errors.New(msg), 2) }

// Newf is New with formatting. %w verbs are honoured.
func Newf(format string, args ...any) error {
	return withStackSkip(fmt.Errorf(format, args...), 2)
}

// WithStack attaches the caller's stack to err.
func WithStack(err error) error { return withStackSkip(err, 2) }

// EnsureTrace attaches a stack only when nothing in the chain has one yet.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStackSkip(err, 2)
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

// Wrap prefixes err with msg and records the call site.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// kinded tags a cause with a sentinel kind. Both stay reachable through
// errors.Is and errors.As.
type kinded struct {
	err  error
	kind error
	pc   uintptr
}

func (k *kinded) Error() string     { return k.kind.Error() + ": " + k.err.Error() }
func (k *kinded) Unwrap() []error   { return []error{k.err, k.kind} }
func (k *kinded) PC() uintptr       { return k.pc }
func (k *kinded) IsXerrorsWrapper() {}

// Mark tags err with kind, e.g. Mark(err, manifest.ErrNotFound). A nil
// err stays nil, a nil kind returns err unchanged.
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	if kind == nil {
		return err
	}
	return &kinded{err: err, kind: kind, pc: callerPC(1)}
}

// Kind reports the first of kinds that err matches, or nil.
func Kind(err error, kinds ...error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
