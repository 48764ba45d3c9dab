package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/s3deploy/internal/version"
)

func TestVCSDirtyStamped(t *testing.T) {
	t.Cleanup(func() { v.VCSDirty = nil })

	trueVal := true
	v.VCSDirty = &trueVal
	if info := v.Get(); info.VCSDirty == nil || !*info.VCSDirty {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	falseVal := false
	v.VCSDirty = &falseVal
	if info := v.Get(); info.VCSDirty == nil || *info.VCSDirty {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestGet_Defaults(t *testing.T) {
	info := v.Get()
	if info.AppName != "s3deploy" {
		t.Fatalf("AppName = %q", info.AppName)
	}
	if info.Version == "" || info.Commit == "" {
		t.Fatalf("Version/Commit should never be empty: %+v", info)
	}
}

func TestInfo_String(t *testing.T) {
	s := v.Info{AppName: "s3deploy", Version: "1.0.0", Commit: "abc"}.String()
	for _, want := range []string{"s3deploy 1.0.0", "commit=abc", "dirty=false"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
