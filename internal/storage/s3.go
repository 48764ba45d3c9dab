package storage

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

// uploader is the part of manager.Uploader we call, split out for tests.
type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type S3Options struct {
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string
	// PathStyle addresses buckets as endpoint/bucket instead of bucket.endpoint.
	PathStyle bool
}

// S3 implements Gateway against AWS S3.
type S3 struct {
	lister   s3.ListObjectsV2APIClient
	uploader uploader
}

var _ Gateway = (*S3)(nil)

func NewS3(cfg aws.Config, opts S3Options) *S3 {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &S3{lister: client, uploader: manager.NewUploader(client)}
}

// List returns every object in bucket, following continuation tokens.
func (g *S3) List(ctx context.Context, bucket string) ([]Object, error) {
	var out []Object
	p := s3.NewListObjectsV2Paginator(g.lister, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Wrapf(xerrors.Mark(err, ErrListFailed), "list s3://%s", bucket)
		}
		for _, o := range page.Contents {
			out = append(out, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
				ETag:         aws.ToString(o.ETag),
			})
		}
	}
	return out, nil
}

func (g *S3) Put(ctx context.Context, in PutInput) (PutOutput, error) {
	res, err := g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(in.Bucket),
		Key:         aws.String(in.Key),
		ContentType: aws.String(in.ContentType),
		Body:        in.Body,
	})
	if err != nil {
		return PutOutput{}, xerrors.Wrapf(xerrors.Mark(err, ErrUploadFailed), "put s3://%s/%s", in.Bucket, in.Key)
	}
	return PutOutput{
		ETag:      aws.ToString(res.ETag),
		VersionID: aws.ToString(res.VersionID),
		Location:  res.Location,
	}, nil
}
