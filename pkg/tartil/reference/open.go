//go:build !js && !wasm
// +build !js,!wasm

package reference

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindDir    = "dir"
	KindS3     = "s3"
)

// OpenOptions selects and configures a store backend.
type OpenOptions struct {
	Kind     string
	DBPath   string // sqlite
	DataRoot string // dir
	Bucket   string // s3
	Prefix   string // s3
	Region   string // s3, optional
	Endpoint string // s3, optional; enables path-style addressing for MinIO and friends
}

// Open builds the store described by opts.
func Open(ctx context.Context, opts OpenOptions) (Store, error) {
	switch opts.Kind {
	case KindSQLite, "":
		return NewSQLiteStore(opts.DBPath)
	case KindDir:
		objects, err := NewLocalObjects(opts.DataRoot)
		if err != nil {
			return nil, err
		}
		return NewFileStore(objects), nil
	case KindS3:
		if opts.Bucket == "" {
			return nil, fmt.Errorf("s3 store requires a bucket")
		}
		var loadOpts []func(*awsconfig.LoadOptions) error
		if opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS config: %w", err)
		}
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.Endpoint)
				o.UsePathStyle = true
			}
		})
		return NewFileStore(NewS3Objects(client, opts.Bucket, opts.Prefix)), nil
	}
	return nil, fmt.Errorf("unknown store kind %q", opts.Kind)
}

// Describe returns a short label for opts, used in logs and health output.
func Describe(opts OpenOptions) string {
	switch opts.Kind {
	case KindDir:
		return "dir:" + opts.DataRoot
	case KindS3:
		if opts.Prefix != "" {
			return "s3://" + opts.Bucket + "/" + opts.Prefix
		}
		return "s3://" + opts.Bucket
	default:
		path := opts.DBPath
		if path == "" {
			path = DefaultDBFile
		}
		return "sqlite:" + path
	}
}
