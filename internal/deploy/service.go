package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/s3deploy/internal/freshness"
	"github.com/keithlinneman/s3deploy/internal/log"
	"github.com/keithlinneman/s3deploy/internal/manifest"
	"github.com/keithlinneman/s3deploy/internal/metrics"
	"github.com/keithlinneman/s3deploy/internal/mimetype"
	"github.com/keithlinneman/s3deploy/internal/storage"
	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

const tracerName = "github.com/keithlinneman/s3deploy/internal/deploy"

var (
	ErrNotRegularFile = errors.New("not a regular file")
	ErrNoGateway      = errors.New("no storage gateway configured")
)

// Metrics is implemented by metrics.DeployMetrics.
type Metrics interface {
	ObserveUpload(result string, bytes int64, d time.Duration)
	SetFilesModified(n int)
	IncListError()
}

type Options struct {
	Gateway storage.Gateway
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Filter defaults to a 24h freshness filter over Fs.
	Filter  *freshness.Filter
	Logger  log.Logger
	Metrics Metrics
	// Limiter paces uploads. Nil means unlimited.
	Limiter *rate.Limiter
	// Out receives command output, stdout by default.
	Out     io.Writer
	NoColor bool
}

type Service struct {
	gw      storage.Gateway
	fs      afero.Fs
	filter  *freshness.Filter
	logger  log.Logger
	metrics Metrics
	limiter *rate.Limiter
	out     io.Writer
	tracer  trace.Tracer

	bucketColor *color.Color
	keyColor    *color.Color
	okColor     *color.Color
	dimColor    *color.Color
}

func New(opts Options) *Service {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Filter == nil {
		opts.Filter = freshness.New(opts.Fs)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	s := &Service{
		gw:          opts.Gateway,
		fs:          opts.Fs,
		filter:      opts.Filter,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		limiter:     opts.Limiter,
		out:         opts.Out,
		tracer:      otel.Tracer(tracerName),
		bucketColor: color.New(color.FgCyan, color.Bold),
		keyColor:    color.New(color.FgWhite),
		okColor:     color.New(color.FgGreen),
		dimColor:    color.New(color.Faint),
	}
	if opts.NoColor {
		for _, c := range []*color.Color{s.bucketColor, s.keyColor, s.okColor, s.dimColor} {
			c.DisableColor()
		}
	}
	return s
}

// Upload is one object sent (or, in a dry run, planned).
type Upload struct {
	Name        string
	Path        string
	Key         string
	ContentType string
	Size        int64
	ETag        string
}

// Report describes what a deploy did. On error it holds the uploads that
// completed before the failure.
type Report struct {
	Bucket   string
	Uploads  []Upload
	DryRun   bool
	Duration time.Duration
}

// Print lists every key in bucket. A listing failure is logged and
// swallowed. Print only fails when no gateway is configured.
func (s *Service) Print(ctx context.Context, bucket string) error {
	if s.gw == nil {
		return xerrors.WithStack(ErrNoGateway)
	}
	ctx, span := s.tracer.Start(ctx, "deploy.Print", trace.WithAttributes(attribute.String("bucket", bucket)))
	defer span.End()

	objs, err := s.gw.List(ctx, bucket)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		if s.metrics != nil {
			s.metrics.IncListError()
		}
		s.logger.Error(ctx, err, "listing bucket failed", "bucket", bucket)
		fmt.Fprintln(s.out, err)
		return nil
	}

	s.bucketColor.Fprintln(s.out, bucket)
	for _, o := range objs {
		s.keyColor.Fprintf(s.out, "   %s\n", o.Key)
	}
	s.logger.Debug(ctx, "listed bucket", "bucket", bucket, "objects", len(objs))
	return nil
}

type DeployInput struct {
	Bucket  string
	Project string
	Prefix  string
	// DryRun prints the planned uploads without calling the gateway.
	DryRun bool
}

// Deploy uploads every manifest entry under Project modified within the
// freshness window. Keys are uploaded in lexicographic order of name and
// the first failure aborts the batch.
func (s *Service) Deploy(ctx context.Context, in DeployInput) (Report, error) {
	start := time.Now()
	rep := Report{Bucket: in.Bucket, DryRun: in.DryRun}
	if s.gw == nil && !in.DryRun {
		return rep, xerrors.WithStack(ErrNoGateway)
	}

	ctx, span := s.tracer.Start(ctx, "deploy.Deploy", trace.WithAttributes(
		attribute.String("bucket", in.Bucket),
		attribute.String("project", in.Project),
		attribute.String("prefix", in.Prefix),
		attribute.Bool("dry_run", in.DryRun),
	))
	defer span.End()

	files, err := s.modified(ctx, in.Project)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select files")
		return rep, err
	}

	logger := s.logger.With("bucket", in.Bucket, "prefix", in.Prefix)
	logger.Info(ctx, "deploy starting", "files", len(files), "dry_run", in.DryRun)

	for _, name := range freshness.SortedNames(files) {
		u := Upload{
			Name:        name,
			Path:        files[name],
			Key:         Key(in.Prefix, name),
			ContentType: mimetype.Resolve(name),
		}
		if err := s.upload(ctx, logger, in.Bucket, &u, in.DryRun); err != nil {
			rep.Duration = time.Since(start)
			span.RecordError(err)
			span.SetStatus(codes.Error, "upload failed")
			return rep, err
		}
		rep.Uploads = append(rep.Uploads, u)
	}

	rep.Duration = time.Since(start)
	logger.Info(ctx, "deploy finished", "uploaded", len(rep.Uploads), "duration", rep.Duration)
	return rep, nil
}

type SingleInput struct {
	Bucket string
	File   string
	Prefix string
	DryRun bool
}

// DeploySingle uploads one local file under Key(Prefix, base(File)). The
// file is not checked against the manifest or the freshness window.
func (s *Service) DeploySingle(ctx context.Context, in SingleInput) (Report, error) {
	start := time.Now()
	rep := Report{Bucket: in.Bucket, DryRun: in.DryRun}
	if s.gw == nil && !in.DryRun {
		return rep, xerrors.WithStack(ErrNoGateway)
	}

	ctx, span := s.tracer.Start(ctx, "deploy.DeploySingle", trace.WithAttributes(
		attribute.String("bucket", in.Bucket),
		attribute.String("file", in.File),
	))
	defer span.End()

	fi, err := s.fs.Stat(in.File)
	if err != nil {
		err = xerrors.Wrapf(xerrors.Mark(err, freshness.ErrMetadataUnavailable), "stat %s", in.File)
		span.RecordError(err)
		span.SetStatus(codes.Error, "stat failed")
		return rep, err
	}
	if !fi.Mode().IsRegular() {
		err = xerrors.Wrapf(xerrors.WithStack(ErrNotRegularFile), "upload %s", in.File)
		span.RecordError(err)
		span.SetStatus(codes.Error, "not a regular file")
		return rep, err
	}

	name := filepath.Base(in.File)
	u := Upload{
		Name:        name,
		Path:        in.File,
		Key:         Key(in.Prefix, name),
		ContentType: mimetype.Resolve(name),
	}
	logger := s.logger.With("bucket", in.Bucket, "prefix", in.Prefix)
	if err := s.upload(ctx, logger, in.Bucket, &u, in.DryRun); err != nil {
		rep.Duration = time.Since(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return rep, err
	}
	rep.Uploads = append(rep.Uploads, u)
	rep.Duration = time.Since(start)
	return rep, nil
}

// Modified prints how many manifest entries are fresh, then their names.
func (s *Service) Modified(ctx context.Context, project string) error {
	ctx, span := s.tracer.Start(ctx, "deploy.Modified", trace.WithAttributes(attribute.String("project", project)))
	defer span.End()

	files, err := s.modified(ctx, project)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select files")
		return err
	}
	s.okColor.Fprintf(s.out, "%d files modified recently:\n", len(files))
	for _, name := range freshness.SortedNames(files) {
		s.keyColor.Fprintf(s.out, "   %s\n", name)
	}
	return nil
}

// modified runs the manifest reader and the freshness filter for project.
func (s *Service) modified(ctx context.Context, project string) (map[string]string, error) {
	names, err := manifest.Read(s.fs, project)
	if err != nil {
		return nil, err
	}
	ctx = log.WithContext(ctx, s.logger.With("project", project))
	files, err := s.filter.Modified(ctx, project, names)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SetFilesModified(len(files))
	}
	s.logger.Debug(ctx, "selected modified files", "project", project, "manifest", len(names), "modified", len(files))
	return files, nil
}

// upload sends u.Path to bucket under u.Key and fills in Size and ETag.
func (s *Service) upload(ctx context.Context, logger log.Logger, bucket string, u *Upload, dryRun bool) error {
	ctx, span := s.tracer.Start(ctx, "deploy.upload", trace.WithAttributes(
		attribute.String("key", u.Key),
		attribute.String("content_type", u.ContentType),
	))
	defer span.End()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return xerrors.Wrapf(err, "wait to upload %s", u.Key)
		}
	}

	f, err := s.fs.Open(u.Path)
	if err != nil {
		s.observe(metrics.ResultFailure, 0, 0)
		return xerrors.Wrapf(xerrors.Mark(err, storage.ErrUploadFailed), "open %s", u.Path)
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil {
		u.Size = fi.Size()
	}
	span.SetAttributes(attribute.Int64("size", u.Size))

	if dryRun {
		s.observe(metrics.ResultDryRun, u.Size, 0)
		logger.Info(ctx, "dry run, skipping upload", "key", u.Key, "content_type", u.ContentType, "size", u.Size)
		s.dimColor.Fprintf(s.out, "Would upload %s as %s (%s)\n", u.Path, u.Key, u.ContentType)
		return nil
	}

	start := time.Now()
	out, err := s.gw.Put(ctx, storage.PutInput{
		Bucket:      bucket,
		Key:         u.Key,
		ContentType: u.ContentType,
		Body:        f,
	})
	elapsed := time.Since(start)
	if err != nil {
		s.observe(metrics.ResultFailure, u.Size, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		if !errors.Is(err, storage.ErrUploadFailed) {
			err = xerrors.Mark(err, storage.ErrUploadFailed)
		}
		logger.Error(ctx, err, "upload failed", "key", u.Key)
		return xerrors.Wrapf(err, "upload %s", u.Key)
	}

	u.ETag = out.ETag
	s.observe(metrics.ResultSuccess, u.Size, elapsed)
	logger.Info(ctx, "uploaded", "key", u.Key, "content_type", u.ContentType, "size", u.Size, "etag", u.ETag, "duration", elapsed)

	s.okColor.Fprintf(s.out, "Upload success for %s\n", u.Key)
	if u.ETag != "" {
		s.dimColor.Fprintf(s.out, "   Entity tag %s\n", u.ETag)
	}
	return nil
}

func (s *Service) observe(result string, size int64, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveUpload(result, size, d)
	}
}
