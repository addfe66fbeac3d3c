package s3

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/spanfs/pkg/leaf"
	leaftesting "github.com/marmos91/spanfs/pkg/leaf/testing"
)

// The S3 leaf tests run only against a live S3-compatible endpoint (MinIO,
// Localstack). Set SPANFS_TEST_S3_ENDPOINT and SPANFS_TEST_S3_BUCKET to
// enable them; credentials come from SPANFS_TEST_S3_ACCESS_KEY and
// SPANFS_TEST_S3_SECRET_KEY.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	endpoint := os.Getenv("SPANFS_TEST_S3_ENDPOINT")
	bucket := os.Getenv("SPANFS_TEST_S3_BUCKET")
	if endpoint == "" || bucket == "" {
		t.Skip("SPANFS_TEST_S3_ENDPOINT / SPANFS_TEST_S3_BUCKET not set; skipping S3 integration tests")
	}

	ctx := context.Background()

	//nolint:staticcheck // matches the production resolver in pkg/config
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			//nolint:staticcheck
			return aws.Endpoint{URL: endpoint, HostnameImmutable: true}, nil
		},
	)

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		//nolint:staticcheck
		awsConfig.WithEndpointResolverWithOptions(resolver),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			os.Getenv("SPANFS_TEST_S3_ACCESS_KEY"),
			os.Getenv("SPANFS_TEST_S3_SECRET_KEY"),
			"",
		)),
	)
	require.NoError(t, err)

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = true
	})

	store, err := New(ctx, Config{
		Client:    client,
		Bucket:    bucket,
		KeyPrefix: "spanfs-test/",
	})
	require.NoError(t, err)
	return store
}

func TestConformance(t *testing.T) {
	suite := leaftesting.Suite{
		NewFS: func(t *testing.T) leaf.FileSystem { return newIntegrationStore(t) },
		// Object stores drop ownership and permission changes.
		SupportsSymlinks:  false,
		SupportsOwnership: false,
	}
	suite.Run(t)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	_, err = New(context.Background(), Config{Bucket: "b"})
	require.Error(t, err)
}
