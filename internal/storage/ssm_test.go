package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	value *string
	noP   bool
	err   error
	names []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.names = append(f.names, aws.ToString(in.Name))
	if f.err != nil {
		return nil, f.err
	}
	if f.noP {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

func TestBucketResolver_Resolve(t *testing.T) {
	f := &fakeSSM{value: aws.String("  prod-site \n")}
	r := &BucketResolver{client: f}

	got, err := r.Resolve(t.Context(), "/site/prod/bucket")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "prod-site" {
		t.Fatalf("bucket = %q, want prod-site", got)
	}
	if len(f.names) != 1 || f.names[0] != "/site/prod/bucket" {
		t.Fatalf("parameter names = %v", f.names)
	}
}

func TestBucketResolver_Errors(t *testing.T) {
	tests := []struct {
		name  string
		param string
		fake  *fakeSSM
	}{
		{"empty param name", "", &fakeSSM{value: aws.String("x")}},
		{"api error", "/p", &fakeSSM{err: errors.New("ParameterNotFound")}},
		{"no parameter", "/p", &fakeSSM{noP: true}},
		{"nil value", "/p", &fakeSSM{}},
		{"blank value", "/p", &fakeSSM{value: aws.String("   ")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &BucketResolver{client: tt.fake}
			got, err := r.Resolve(t.Context(), tt.param)
			if err == nil {
				t.Fatalf("Resolve = %q, want error", got)
			}
		})
	}
}
