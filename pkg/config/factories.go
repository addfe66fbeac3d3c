package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/spanfs/internal/logger"
	"github.com/marmos91/spanfs/pkg/leaf"
	badgerleaf "github.com/marmos91/spanfs/pkg/leaf/badger"
	memoryleaf "github.com/marmos91/spanfs/pkg/leaf/memory"
	"github.com/marmos91/spanfs/pkg/leaf/reflector"
	s3leaf "github.com/marmos91/spanfs/pkg/leaf/s3"
)

// CreateLeaves materializes the configured leaves in declaration order.
func CreateLeaves(ctx context.Context, configs []LeafConfig) ([]leaf.FileSystem, error) {
	leaves := make([]leaf.FileSystem, 0, len(configs))
	for i := range configs {
		backing, err := CreateLeaf(ctx, &configs[i])
		if err != nil {
			return nil, fmt.Errorf("leaves[%d]: %w", i, err)
		}
		leaves = append(leaves, backing)
	}
	return leaves, nil
}

// CreateLeaf builds one leaf backend from its configuration entry.
func CreateLeaf(ctx context.Context, cfg *LeafConfig) (leaf.FileSystem, error) {
	switch cfg.Type {
	case "reflector":
		return createReflectorLeaf(cfg.Reflector)
	case "memory":
		return createMemoryLeaf(cfg.Memory)
	case "badger":
		return createBadgerLeaf(cfg.Badger)
	case "s3":
		return createS3Leaf(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown leaf type: %q", cfg.Type)
	}
}

func createReflectorLeaf(options map[string]any) (leaf.FileSystem, error) {
	type reflectorOptions struct {
		Path string `mapstructure:"path"`
	}

	var opts reflectorOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("decoding reflector leaf config: %w", err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("reflector leaf: path is required")
	}

	backing, err := reflector.New(opts.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("reflector leaf initialized: root=%s", opts.Path)
	return backing, nil
}

func createMemoryLeaf(options map[string]any) (leaf.FileSystem, error) {
	type memoryOptions struct {
		Capacity int64 `mapstructure:"capacity"`
	}

	var opts memoryOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("decoding memory leaf config: %w", err)
	}

	logger.Info("memory leaf initialized: capacity=%d", opts.Capacity)
	return memoryleaf.New(opts.Capacity), nil
}

func createBadgerLeaf(options map[string]any) (leaf.FileSystem, error) {
	type badgerOptions struct {
		Path     string `mapstructure:"path"`
		Capacity int64  `mapstructure:"capacity"`
	}

	var opts badgerOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("decoding badger leaf config: %w", err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("badger leaf: path is required")
	}

	backing, err := badgerleaf.New(badgerleaf.Config{
		Path:     opts.Path,
		Capacity: opts.Capacity,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("badger leaf initialized: path=%s capacity=%d", opts.Path, opts.Capacity)
	return backing, nil
}

func createS3Leaf(ctx context.Context, options map[string]any) (leaf.FileSystem, error) {
	type s3Options struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var opts s3Options
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("decoding s3 leaf config: %w", err)
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 leaf: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("s3 leaf: region is required")
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	// Custom endpoint for S3-compatible storage (MinIO, Localstack, ...).
	if opts.Endpoint != "" {
		//nolint:staticcheck // migrate to BaseEndpoint when the SDK stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck
				return aws.Endpoint{
					URL:               opts.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility.
		if opts.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	backing, err := s3leaf.New(ctx, s3leaf.Config{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("s3 leaf initialized: bucket=%s region=%s prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)
	return backing, nil
}
