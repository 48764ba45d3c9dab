package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// lastRecord parses the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse JSON log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestNewSlog_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{
		App: "s3deploy", Version: "1.2.3", Commit: "abc",
		RunID: "run-1", Command: "yolo", JsonFormat: true,
	})

	l.Info(context.Background(), "hello")

	m := lastRecord(t, &buf)
	for k, want := range map[string]string{
		"msg": "hello", "app": "s3deploy", "version": "1.2.3", "commit": "abc",
		"run_id": "run-1", "command": "yolo",
	} {
		if m[k] != want {
			t.Errorf("%s = %v, want %q", k, m[k], want)
		}
	}
}

func TestNewSlog_OmitsEmptyVersion(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "s3deploy", JsonFormat: true})
	l.Info(context.Background(), "hello")

	m := lastRecord(t, &buf)
	for _, k := range []string{"version", "commit", "run_id", "command"} {
		if _, ok := m[k]; ok {
			t.Errorf("%s should be omitted when empty", k)
		}
	}
}

func TestNewSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "s3deploy"})
	l.Info(context.Background(), "text test")

	if !strings.Contains(buf.String(), `msg="text test"`) {
		t.Fatalf("expected logfmt output, got: %s", buf.String())
	}
}

func TestNewSlog_DefaultMaxErrorLinks(t *testing.T) {
	var buf bytes.Buffer
	if l := newTestLogger(t, &buf, Options{}); l.maxErrorLinks != defaultMaxErrorLinks {
		t.Fatalf("maxErrorLinks = %d, want %d", l.maxErrorLinks, defaultMaxErrorLinks)
	}
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true, Level: slog.LevelWarn})
	ctx := context.Background()

	l.Debug(ctx, "debug msg")
	l.Info(ctx, "info msg")
	if buf.Len() != 0 {
		t.Fatalf("debug/info should be filtered at warn level, got: %s", buf.String())
	}
	l.Warn(ctx, "warn msg")
	if !strings.Contains(buf.String(), "warn msg") {
		t.Fatalf("warn should pass, got: %s", buf.String())
	}
}

func TestSlogLogger_With_CopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{JsonFormat: true})
	child := base.With("run_id", "r1")
	_ = base.With("bucket", "b")

	child.Info(context.Background(), "child")
	m := lastRecord(t, &buf)
	if m["run_id"] != "r1" {
		t.Fatalf("run_id = %v, want r1", m["run_id"])
	}
	if _, ok := m["bucket"]; ok {
		t.Fatal("sibling With leaked into child")
	}

	buf.Reset()
	base.Info(context.Background(), "base")
	if _, ok := lastRecord(t, &buf)["run_id"]; ok {
		t.Fatal("child With leaked into parent")
	}
}

func TestSlogLogger_With_SkipsBadPairs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true}).With(42, "x", "ok", 1, "orphan")
	l.Info(context.Background(), "pairs")

	m := lastRecord(t, &buf)
	if m["ok"] != float64(1) {
		t.Fatalf("ok = %v, want 1", m["ok"])
	}
	if _, found := m["orphan"]; found {
		t.Fatal("orphan key should be dropped")
	}
}

func TestSlogLogger_Error_Enrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true, IncludeErrorLinks: true})

	kind := errors.New("manifest not found")
	err := xerrors.Wrap(xerrors.Mark(fs.ErrNotExist, kind), "read manifest")
	l.Error(context.Background(), err, "deploy failed", "bucket", "site")

	m := lastRecord(t, &buf)
	if m["bucket"] != "site" {
		t.Fatalf("bucket = %v", m["bucket"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 3 {
		t.Fatalf("error_chain = %v, want 3 links", m["error_chain"])
	}
	if chain[2] != fs.ErrNotExist.Error() {
		t.Fatalf("innermost link = %v", chain[2])
	}
	if _, ok := m["error_links"]; !ok {
		t.Fatal("error_links missing")
	}
	if m["cause_type"] != fmt.Sprintf("%T", fs.ErrNotExist) {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	if _, ok := m["stack"].(string); !ok {
		t.Fatal("stack should be attached at error level")
	}
}

func TestSlogLogger_Error_LinksDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true})
	l.Error(context.Background(), errors.New("x"), "no links")

	if _, ok := lastRecord(t, &buf)["error_links"]; ok {
		t.Fatal("error_links should be absent when disabled")
	}
}

func TestSlogLogger_Error_NilError(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true})
	l.Error(context.Background(), nil, "nil err")

	if _, ok := lastRecord(t, &buf)["err"]; ok {
		t.Fatal("err should be absent for nil error")
	}
}

func TestOtelHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := lastRecord(t, &buf)
	if m["trace_id"] != "0102030405060708090a0b0c0d0e0f10" || m["span_id"] != "0102030405060708" {
		t.Fatalf("trace fields = %v / %v", m["trace_id"], m["span_id"])
	}
}

func TestStackHandler_NoStackBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{JsonFormat: true, StacktraceLevel: slog.LevelError})
	l.Warn(context.Background(), "warn")

	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Fatal("stack should not be present below stacktrace level")
	}
}

func TestErrorChain_DeduplicatesAndFollowsMark(t *testing.T) {
	kind := errors.New("upload failed")
	err := xerrors.WithStack(xerrors.Mark(errors.New("denied"), kind))

	got := errorChain(err)
	want := []string{"upload failed: denied", "denied"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("errorChain = %q, want %q", got, want)
	}
}

func TestClassifyTypes_SkipsWrappers(t *testing.T) {
	inner := &fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}
	surface, root := classifyTypes(xerrors.Wrap(fmt.Errorf("ctx: %w", inner), "outer"))

	if surface != "*fs.PathError" {
		t.Fatalf("surface = %q, want *fs.PathError", surface)
	}
	if root != fmt.Sprintf("%T", fs.ErrNotExist) {
		t.Fatalf("root = %q", root)
	}
}

func TestChainLinks_RespectsMax(t *testing.T) {
	err := xerrors.Wrap(xerrors.Wrap(xerrors.Wrap(errors.New("root"), "a"), "b"), "c")
	if got := chainLinks(err, 2); len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestFrameHelpers_Empty(t *testing.T) {
	if _, _, _, ok := frameFromPC(0); ok {
		t.Fatal("frameFromPC(0) should fail")
	}
	if _, _, _, ok := firstExtFrame(nil); ok {
		t.Fatal("firstExtFrame(nil) should fail")
	}
}
