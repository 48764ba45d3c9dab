package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/s3deploy/internal/freshness"
	"github.com/keithlinneman/s3deploy/internal/manifest"
	"github.com/keithlinneman/s3deploy/internal/storage"
	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	base := []string{"--no-color", "--env-file="}
	code := run(context.Background(), append(args, base...), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

// project writes a site project with a manifest and public files of the
// given ages and returns its root.
func project(t *testing.T, manifest string, ages map[string]time.Duration) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "out"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "out", "public.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, age := range ages {
		p := filepath.Join(root, "public", name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := time.Now().Add(-age)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"version"}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, errOut.String())
	}
	if !strings.HasPrefix(out.String(), "s3deploy ") {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestRun_Modified(t *testing.T) {
	root := project(t, `["b.js","a.css","old.png"]`, map[string]time.Duration{
		"a.css":   time.Minute,
		"b.js":    time.Hour,
		"old.png": 30 * time.Hour,
	})

	r := runCLI(t, "modified", "-p", root)
	if r.code != 0 {
		t.Fatalf("exit = %d, stderr = %s", r.code, r.stderr)
	}
	want := "2 files modified recently:\n   a.css\n   b.js\n"
	if r.stdout != want {
		t.Fatalf("stdout = %q, want %q", r.stdout, want)
	}
}

func TestRun_ProjectFromEnv(t *testing.T) {
	root := project(t, `["a.css"]`, map[string]time.Duration{"a.css": time.Minute})
	t.Setenv("S3DEPLOY_PROJECT", root)

	r := runCLI(t, "modified")
	if r.code != 0 {
		t.Fatalf("exit = %d, stderr = %s", r.code, r.stderr)
	}
	if !strings.HasPrefix(r.stdout, "1 files modified recently:") {
		t.Fatalf("stdout = %q", r.stdout)
	}
}

func TestRun_MissingRequiredFlag(t *testing.T) {
	r := runCLI(t, "modified")
	if r.code != 1 {
		t.Fatalf("exit = %d, want 1", r.code)
	}
	if !strings.Contains(r.stderr, `required flag(s) "project" not set`) {
		t.Fatalf("stderr = %q", r.stderr)
	}
}

func TestRun_ManifestMissing(t *testing.T) {
	r := runCLI(t, "modified", "-p", t.TempDir())
	if r.code != 1 {
		t.Fatalf("exit = %d, want 1", r.code)
	}
	if !strings.Contains(r.stderr, "manifest not found") {
		t.Fatalf("stderr = %q", r.stderr)
	}
	if r.stdout != "" {
		t.Fatalf("stdout = %q, want empty", r.stdout)
	}
}

func TestRun_YoloDryRun(t *testing.T) {
	root := project(t, `["index.html","a.css"]`, map[string]time.Duration{
		"index.html": time.Minute,
		"a.css":      time.Minute,
	})

	r := runCLI(t, "yolo", "-b", "site-bucket", "-p", root, "-s", "v2", "--dry-run")
	if r.code != 0 {
		t.Fatalf("exit = %d, stderr = %s", r.code, r.stderr)
	}
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("stdout = %q", r.stdout)
	}
	if !strings.Contains(lines[0], "as v2/a.css (text/css)") || !strings.Contains(lines[1], "as v2/index.html (text/html)") {
		t.Fatalf("stdout = %q", r.stdout)
	}
}

func TestRun_DeployAlias(t *testing.T) {
	root := project(t, `[]`, nil)
	r := runCLI(t, "deploy", "-b", "site-bucket", "-p", root, "--dry-run")
	if r.code != 0 {
		t.Fatalf("exit = %d, stderr = %s", r.code, r.stderr)
	}
}

func TestRun_UploadDryRun(t *testing.T) {
	root := project(t, `[]`, map[string]time.Duration{"img/logo.svg": 100 * 24 * time.Hour})

	r := runCLI(t, "upload", "-b", "site-bucket", "-f", filepath.Join(root, "public", "img", "logo.svg"), "-s", "assets", "--dry-run")
	if r.code != 0 {
		t.Fatalf("exit = %d, stderr = %s", r.code, r.stderr)
	}
	if !strings.Contains(r.stdout, "as assets/logo.svg (image/svg)") {
		t.Fatalf("stdout = %q", r.stdout)
	}
}

func TestRun_UploadDirectory(t *testing.T) {
	r := runCLI(t, "upload", "-b", "site-bucket", "-f", t.TempDir(), "--dry-run")
	if r.code != 1 || !strings.Contains(r.stderr, "not a regular file") {
		t.Fatalf("exit = %d, stderr = %q", r.code, r.stderr)
	}
}

func TestRun_PrintNeedsBucket(t *testing.T) {
	r := runCLI(t, "print")
	if r.code != 1 {
		t.Fatalf("exit = %d, want 1", r.code)
	}
	if !strings.Contains(r.stderr, "--bucket or --bucket-ssm-param is required") {
		t.Fatalf("stderr = %q", r.stderr)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	r := runCLI(t, "modified", "-p", t.TempDir(), "--log-level=loud")
	if r.code != 1 {
		t.Fatalf("exit = %d, want 1", r.code)
	}
	if !strings.Contains(r.stderr, "invalid LOG_LEVEL") {
		t.Fatalf("stderr = %q", r.stderr)
	}
}

func TestRun_ConfigFile(t *testing.T) {
	root := project(t, `["a.css"]`, map[string]time.Duration{"a.css": time.Minute})
	conf := filepath.Join(t.TempDir(), "s3deploy.yaml")
	if err := os.WriteFile(conf, []byte("project: "+root+"\nbucket: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := runCLI(t, "yolo", "--config", conf, "--dry-run")
	if r.code != 0 {
		t.Fatalf("exit = %d, stderr = %s", r.code, r.stderr)
	}
	if !strings.Contains(r.stdout, "as a.css (text/css)") {
		t.Fatalf("stdout = %q", r.stdout)
	}
}

func TestRun_MetricsFile(t *testing.T) {
	root := project(t, `["a.css","b.css"]`, map[string]time.Duration{"a.css": time.Minute, "b.css": time.Minute})
	metricsFile := filepath.Join(t.TempDir(), "s3deploy.prom")

	r := runCLI(t, "modified", "-p", root, "--metrics-file", metricsFile)
	if r.code != 0 {
		t.Fatalf("exit = %d, stderr = %s", r.code, r.stderr)
	}
	b, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	for _, want := range []string{"s3deploy_files_modified 2", "s3deploy_build_info{", `s3deploy_run_duration_seconds{command="modified"}`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("metrics file missing %q", want)
		}
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"manifest missing", xerrors.Wrap(xerrors.Mark(os.ErrNotExist, manifest.ErrNotFound), "read"), "manifest_not_found"},
		{"manifest malformed", xerrors.Mark(errors.New("bad json"), manifest.ErrMalformed), "manifest_malformed"},
		{"stat failed", xerrors.Mark(os.ErrPermission, freshness.ErrMetadataUnavailable), "metadata_unavailable"},
		{"upload failed", xerrors.Wrapf(xerrors.Mark(errors.New("503"), storage.ErrUploadFailed), "upload %s", "a.css"), "upload_failed"},
		{"list failed", xerrors.Mark(errors.New("denied"), storage.ErrListFailed), "list_failed"},
		{"unclassified", errNoBucket, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorKind(tt.err); got != tt.want {
				t.Fatalf("errorKind = %q, want %q", got, tt.want)
			}
		})
	}
}
