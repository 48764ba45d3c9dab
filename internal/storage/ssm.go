package storage

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

type parameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// BucketResolver reads the deploy bucket name from an SSM parameter.
type BucketResolver struct {
	client parameterGetter
}

func NewBucketResolver(cfg aws.Config) *BucketResolver {
	return &BucketResolver{client: ssm.NewFromConfig(cfg)}
}

func (r *BucketResolver) Resolve(ctx context.Context, param string) (string, error) {
	if param == "" {
		return "", xerrors.New("bucket SSM parameter name is empty")
	}
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}
	bucket := strings.TrimSpace(*out.Parameter.Value)
	if bucket == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return bucket, nil
}
