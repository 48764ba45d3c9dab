package cfg

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/keithlinneman/s3deploy/internal/log"
	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

// EnvPrefix is prepended to upper-cased flag names, e.g. S3DEPLOY_LOG_LEVEL.
const EnvPrefix = "S3DEPLOY_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	Region         string
	Profile        string
	Endpoint       string
	PathStyle      bool
	AccessKeyID    string
	SecretKey      string
	BucketSSMParam string

	UploadsPerSecond float64

	EnableTracing bool
	OTLPEndpoint  string
	OTLPInsecure  bool
	TraceSample   float64

	MetricsFile    string
	PushgatewayURL string

	NoColor    bool
	ConfigFile string
	EnvFile    string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *pflag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "warn", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", false, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.StringVar(&c.Region, "region", "", "AWS region (default from the AWS config chain)")
	fs.StringVar(&c.Profile, "profile", "", "AWS shared config profile")
	fs.StringVar(&c.Endpoint, "endpoint", "", "S3-compatible endpoint URL, e.g. http://localhost:4566")
	fs.BoolVar(&c.PathStyle, "path-style", false, "Use path-style bucket addressing")
	fs.StringVar(&c.AccessKeyID, "access-key-id", "", "static access key for S3-compatible stores (default from the AWS config chain)")
	fs.StringVar(&c.SecretKey, "secret-access-key", "", "static secret key, required with --access-key-id")
	fs.StringVar(&c.BucketSSMParam, "bucket-ssm-param", "", "SSM parameter holding the bucket name, used when --bucket is empty")
	fs.Float64Var(&c.UploadsPerSecond, "uploads-per-second", 0, "max uploads per second (0 = unlimited)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "Disable TLS to the OTLP endpoint")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.MetricsFile, "metrics-file", "", "write run metrics to this node_exporter textfile")
	fs.StringVar(&c.PushgatewayURL, "pushgateway-url", "", "push run metrics to this pushgateway")
	fs.BoolVar(&c.NoColor, "no-color", false, "Disable colored output")
	fs.StringVar(&c.ConfigFile, "config", "", "YAML config file, keys are flag names")
	fs.StringVar(&c.EnvFile, "env-file", ".env", "dotenv file loaded into the environment if present")
}

// Load fills flags not set on the command line, first from the environment
// and then from the YAML config file. Precedence: cli > env > file > default.
// A missing default .env is ignored, an explicit --env-file must exist.
func Load(fs *pflag.FlagSet, c *App, logf func(string, ...any)) error {
	envFileExplicit := fs.Changed("env-file")
	if err := LoadDotEnv(c.EnvFile, envFileExplicit); err != nil {
		return err
	}
	FillFromEnv(fs, EnvPrefix, logf)
	if c.ConfigFile == "" {
		return nil
	}
	return LoadFile(fs, c.ConfigFile, logf)
}

// LoadDotEnv exports the variables in path without overriding ones already
// set. A missing file is only an error when required.
func LoadDotEnv(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return xerrors.Wrapf(err, "env file %s", path)
	}
	if err := godotenv.Load(path); err != nil {
		return xerrors.Wrapf(err, "load env file %s", path)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *pflag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *pflag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag --%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = f.Value.Set(prev)
			f.Changed = false
			if logf != nil {
				logf("flag --%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// LoadFile applies a YAML map of flag name to value for every flag that is
// still unset. Keys for flags this command does not have are skipped.
func LoadFile(fs *pflag.FlagSet, path string, logf func(string, ...any)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrapf(err, "read config file %s", path)
	}
	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return xerrors.Wrapf(err, "parse config file %s", path)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		f := fs.Lookup(k)
		if f == nil {
			if logf != nil {
				logf("config %s: no flag --%s for this command, skipping", path, k)
			}
			continue
		}
		if f.Changed {
			continue
		}
		v, err := scalar(values[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("config key %q: %w", k, err))
			continue
		}
		if err := fs.Set(k, v); err != nil {
			errs = append(errs, fmt.Errorf("config key %q: %w", k, err))
		}
	}
	if len(errs) > 0 {
		return xerrors.Wrapf(errors.Join(errs...), "config file %s", path)
	}
	return nil
}

func scalar(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("ENDPOINT must be a URL (got %q)", c.Endpoint))
		}
	}

	if (c.AccessKeyID == "") != (c.SecretKey == "") {
		errs = append(errs, fmt.Errorf("ACCESS_KEY_ID and SECRET_ACCESS_KEY must be set together"))
	}

	if c.UploadsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("invalid UPLOADS_PER_SECOND %g (must be >= 0)", c.UploadsPerSecond))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.PushgatewayURL != "" {
		if u, err := url.Parse(c.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUSHGATEWAY_URL must be a URL (got %q)", c.PushgatewayURL))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
