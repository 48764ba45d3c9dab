package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/s3deploy/internal/cfg"
	"github.com/keithlinneman/s3deploy/internal/deploy"
	"github.com/keithlinneman/s3deploy/internal/log"
	"github.com/keithlinneman/s3deploy/internal/metrics"
	"github.com/keithlinneman/s3deploy/internal/otelx"
	"github.com/keithlinneman/s3deploy/internal/storage"
	v "github.com/keithlinneman/s3deploy/internal/version"
	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

const exportTimeout = 5 * time.Second

var errNoBucket = errors.New("--bucket or --bucket-ssm-param is required")

// app is the per-process state shared by every command.
type app struct {
	conf   cfg.App
	stdout io.Writer
	stderr io.Writer

	runID        string
	started      time.Time
	logger       log.Logger
	metrics      *metrics.DeployMetrics
	shutdownOTEL func(context.Context) error

	awsCfg *aws.Config
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		runID:  uuid.NewString(),
		logger: log.Nop(),
	}
}

func (a *app) logf(format string, args ...any) {
	fmt.Fprintf(a.stderr, format+"\n", args...)
}

// setup runs before every command except version.
func (a *app) setup(cmd *cobra.Command) error {
	a.started = time.Now()

	if err := cfg.Load(cmd.Flags(), &a.conf, a.logf); err != nil {
		return xerrors.Wrap(err, "config")
	}
	if err := cfg.Validate(a.conf); err != nil {
		return xerrors.Wrap(err, "config")
	}
	if a.conf.NoColor {
		color.NoColor = true
	}

	lvl, _ := log.ParseLevel(a.conf.LogLevel)
	stLvl, _ := log.ParseLevel(a.conf.StacktraceLevel)
	vi := v.Get()
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		RunID:             a.runID,
		Command:           cmd.Name(),
		Level:             lvl,
		StacktraceLevel:   stLvl,
		JsonFormat:        a.conf.LogJSON,
		MaxErrorLinks:     a.conf.MaxErrorLinks,
		IncludeErrorLinks: a.conf.IncludeErrorLinks,
		Writer:            a.stderr,
	})
	if err != nil {
		return xerrors.Wrap(err, "logger init")
	}
	a.logger = lg
	ctx := log.WithContext(cmd.Context(), a.logger)

	a.shutdownOTEL, err = otelx.Init(ctx, otelx.Options{
		Enabled:  a.conf.EnableTracing,
		Endpoint: a.conf.OTLPEndpoint,
		Insecure: a.conf.OTLPInsecure,
		Sample:   a.conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
		RunID:    a.runID,
	})
	if err != nil {
		// tracing is optional, the deploy goes ahead without it
		a.logger.Error(ctx, err, "otel init failed", "otlp_endpoint", a.conf.OTLPEndpoint)
	}

	a.metrics = metrics.New()
	a.metrics.SetBuildInfo(vi)

	a.logger.Debug(ctx, "starting",
		"version", vi.Version,
		"commit", vi.Commit,
		"region", a.conf.Region,
		"profile", a.conf.Profile,
		"endpoint", a.conf.Endpoint,
		"uploads_per_second", a.conf.UploadsPerSecond,
		"enable_tracing", a.conf.EnableTracing,
	)
	cmd.SetContext(ctx)
	return nil
}

// finish records run metrics, exports them and flushes traces. It runs
// after the command whether or not it failed.
func (a *app) finish(command string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()
	ctx = log.WithContext(ctx, a.logger)

	if a.metrics != nil {
		a.metrics.ObserveRun(command, time.Since(a.started), runErr)
		if a.conf.MetricsFile != "" {
			if err := a.metrics.WriteTextfile(a.conf.MetricsFile); err != nil {
				a.logger.Error(ctx, err, "metrics textfile export failed")
			}
		}
		if a.conf.PushgatewayURL != "" {
			host, _ := os.Hostname()
			if err := a.metrics.Push(ctx, a.conf.PushgatewayURL, v.AppName, host); err != nil {
				a.logger.Error(ctx, err, "metrics push failed")
			}
		}
	}
	if a.shutdownOTEL != nil {
		if err := a.shutdownOTEL(ctx); err != nil {
			a.logger.Warn(ctx, "otel shutdown failed", "err", err)
		}
	}
	_ = a.logger.Sync()
}

// awsConfig loads the shared AWS config once. Retries are limited to a single
// attempt so a failed upload surfaces immediately.
func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(1),
	}
	if a.conf.Region != "" {
		opts = append(opts, config.WithRegion(a.conf.Region))
	}
	if a.conf.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(a.conf.Profile))
	}
	if a.conf.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.conf.AccessKeyID, a.conf.SecretKey, ""),
		))
	}
	c, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load AWS config")
	}
	a.awsCfg = &c
	return c, nil
}

// bucket returns the --bucket value or, when it is empty, the SSM lookup.
func (a *app) bucket(ctx context.Context, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if a.conf.BucketSSMParam == "" {
		return "", xerrors.WithStack(errNoBucket)
	}
	c, err := a.awsConfig(ctx)
	if err != nil {
		return "", err
	}
	b, err := storage.NewBucketResolver(c).Resolve(ctx, a.conf.BucketSSMParam)
	if err != nil {
		return "", err
	}
	a.logger.Info(ctx, "resolved bucket from SSM", "param", a.conf.BucketSSMParam, "bucket", b)
	return b, nil
}

// service builds the deploy service. The S3 gateway is only created when
// withGateway is set so offline commands need no AWS credentials.
func (a *app) service(ctx context.Context, withGateway bool) (*deploy.Service, error) {
	opts := deploy.Options{
		Logger:  a.logger,
		Metrics: a.metrics,
		Out:     a.stdout,
		NoColor: a.conf.NoColor,
	}
	if a.conf.UploadsPerSecond > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(a.conf.UploadsPerSecond), 1)
	}
	if withGateway {
		c, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		opts.Gateway = storage.NewS3(c, storage.S3Options{
			Endpoint:  a.conf.Endpoint,
			PathStyle: a.conf.PathStyle,
		})
	}
	return deploy.New(opts), nil
}
