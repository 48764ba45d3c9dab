package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/s3deploy/internal/cfg"
	"github.com/keithlinneman/s3deploy/internal/deploy"
	"github.com/keithlinneman/s3deploy/internal/freshness"
	"github.com/keithlinneman/s3deploy/internal/log"
	"github.com/keithlinneman/s3deploy/internal/manifest"
	"github.com/keithlinneman/s3deploy/internal/storage"
	v "github.com/keithlinneman/s3deploy/internal/version"
	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

// errorKind names the failure class of err, "other" when it has none.
func errorKind(err error) string {
	k := xerrors.Kind(err,
		manifest.ErrNotFound,
		manifest.ErrMalformed,
		freshness.ErrMetadataUnavailable,
		storage.ErrUploadFailed,
		storage.ErrListFailed,
	)
	switch k {
	case manifest.ErrNotFound:
		return "manifest_not_found"
	case manifest.ErrMalformed:
		return "manifest_malformed"
	case freshness.ErrMetadataUnavailable:
		return "metadata_unavailable"
	case storage.ErrUploadFailed:
		return "upload_failed"
	case storage.ErrListFailed:
		return "list_failed"
	}
	return "other"
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err != nil {
		a.logger.Error(log.WithContext(ctx, a.logger), err, "command failed", "error_kind", errorKind(err))
	}
	if cmd != nil && !a.started.IsZero() {
		a.finish(cmd.Name(), err)
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           v.AppName,
		Short:         "Deploy your static site to AWS S3",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
	}
	cfg.Register(root.PersistentFlags(), &a.conf)

	root.AddCommand(
		newPrintCmd(a),
		newYoloCmd(a),
		newModifiedCmd(a),
		newUploadCmd(a),
		newVersionCmd(a),
	)
	return root
}

func newPrintCmd(a *app) *cobra.Command {
	var bucket string
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print objects in <BUCKET>",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.bucket(ctx, bucket)
			if err != nil {
				return err
			}
			svc, err := a.service(ctx, true)
			if err != nil {
				return err
			}
			return svc.Print(ctx, b)
		},
	}
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "bucket to list")
	return cmd
}

func newYoloCmd(a *app) *cobra.Command {
	var in deploy.DeployInput
	cmd := &cobra.Command{
		Use:     "yolo",
		Aliases: []string{"deploy"},
		Short:   "Deploy recently modified files in <PROJECT> to <BUCKET>",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.bucket(ctx, in.Bucket)
			if err != nil {
				return err
			}
			in.Bucket = b
			svc, err := a.service(ctx, !in.DryRun)
			if err != nil {
				return err
			}
			_, err = svc.Deploy(ctx, in)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&in.Bucket, "bucket", "b", "", "destination bucket")
	f.StringVarP(&in.Project, "project", "p", "", "site project directory holding out/ and public/")
	f.StringVarP(&in.Prefix, "subdirectory", "s", "", "key prefix inside the bucket")
	f.BoolVar(&in.DryRun, "dry-run", false, "print planned uploads without uploading")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newModifiedCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "modified",
		Short: "Print recently modified files (< 24 hrs) in <PROJECT>",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx, false)
			if err != nil {
				return err
			}
			return svc.Modified(ctx, project)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "site project directory holding out/ and public/")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newUploadCmd(a *app) *cobra.Command {
	var in deploy.SingleInput
	cmd := &cobra.Command{
		Use:     "upload",
		Aliases: []string{"deploy-single"},
		Short:   "Deploy <FILE> to <BUCKET>",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.bucket(ctx, in.Bucket)
			if err != nil {
				return err
			}
			in.Bucket = b
			svc, err := a.service(ctx, !in.DryRun)
			if err != nil {
				return err
			}
			_, err = svc.DeploySingle(ctx, in)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&in.Bucket, "bucket", "b", "", "destination bucket")
	f.StringVarP(&in.File, "file", "f", "", "local file to upload")
	f.StringVarP(&in.Prefix, "subdirectory", "s", "", "key prefix inside the bucket")
	f.BoolVar(&in.DryRun, "dry-run", false, "print the planned upload without uploading")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(a.stdout, v.Get().String())
			return err
		},
	}
}
