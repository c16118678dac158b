package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	orcherrors "github.com/cloudflux/orchestrator/pkg/errors"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// AWSTierClasses maps orchestrator tiers to S3 storage classes. ARCHIVE
// rounds to Glacier, the coldest class S3 exposes through this adapter.
var AWSTierClasses = TierClasses{
	types.TierHot:     string(s3types.StorageClassStandard),
	types.TierWarm:    string(s3types.StorageClassStandardIa),
	types.TierCold:    string(s3types.StorageClassOnezoneIa),
	types.TierArchive: string(s3types.StorageClassGlacier),
}

// AWSAdapter is the AwsAdapter variant of the Provider Adapter Layer,
// backed by aws-sdk-go-v2's S3 client.
type AWSAdapter struct {
	client *s3.Client
	logger *slog.Logger
}

// NewAWSAdapter constructs an S3-backed adapter. credentialsRef, when
// non-empty, is treated as a static access-key-id:secret pair; an empty
// ref falls back to the SDK's default credential chain (env vars,
// shared config, instance role).
func NewAWSAdapter(ctx context.Context, region, credentialsRef string, logger *slog.Logger) (*AWSAdapter, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
	}
	if credentialsRef != "" {
		if id, secret, ok := strings.Cut(credentialsRef, ":"); ok {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(id, secret, "")))
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &AWSAdapter{
		client: client,
		logger: logger.With("component", "provider.aws"),
	}, nil
}

// Provider identifies this adapter as AWS.
func (a *AWSAdapter) Provider() types.Provider { return types.ProviderAWS }

// Enumerate lists objects under container/prefix, paginating internally
// via the SDK's ListObjectsV2Paginator.
func (a *AWSAdapter) Enumerate(ctx context.Context, container, prefix string) (ObjectIterator, error) {
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
		Prefix: aws.String(prefix),
	})
	return &awsIterator{
		paginator: paginator,
		container: container,
		component: "provider.aws",
	}, nil
}

type awsIterator struct {
	paginator *s3.ListObjectsV2Paginator
	container string
	component string

	page    []s3types.Object
	idx     int
	current types.ObjectRef
	err     error
}

// Next advances to the next object, fetching the next S3 page when the
// current one is exhausted.
func (it *awsIterator) Next(ctx context.Context) bool {
	for it.idx >= len(it.page) {
		if !it.paginator.HasMorePages() {
			return false
		}
		cctx, cancel := WithDefaultDeadline(ctx)
		out, err := it.paginator.NextPage(cctx)
		cancel()
		if err != nil {
			it.err = translateAWSError(it.component, "Enumerate", "", err)
			return false
		}
		it.page = out.Contents
		it.idx = 0
	}

	obj := it.page[it.idx]
	it.idx++
	it.current = types.ObjectRef{
		Provider:             types.ProviderAWS,
		Container:            it.container,
		Key:                  aws.ToString(obj.Key),
		SizeBytes:            uint64(aws.ToInt64(obj.Size)),
		LastModified:         aws.ToTime(obj.LastModified),
		ProviderStorageClass: string(obj.StorageClass),
		ETag:                 strings.Trim(aws.ToString(obj.ETag), `"`),
	}
	return true
}

func (it *awsIterator) Current() types.ObjectRef { return it.current }
func (it *awsIterator) Err() error                { return it.err }

// Stat fetches fresh HeadObject metadata for one object.
func (a *AWSAdapter) Stat(ctx context.Context, container, key string) (types.ObjectRef, error) {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return types.ObjectRef{}, translateAWSError("provider.aws", "Stat", key, err)
	}

	return types.ObjectRef{
		Provider:             types.ProviderAWS,
		Container:            container,
		Key:                  key,
		SizeBytes:            uint64(aws.ToInt64(out.ContentLength)),
		LastModified:         aws.ToTime(out.LastModified),
		ProviderStorageClass: string(out.StorageClass),
		ETag:                 strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

// CopyObject uses S3 server-side copy when the destination is also S3;
// it is the caller's responsibility to stream bytes for cross-provider
// copies (the Migration Engine does this via Stat+Get+Put at the worker
// level, outside this adapter).
func (a *AWSAdapter) CopyObject(ctx context.Context, src types.ObjectRef, destContainer, destKey string, noOverwrite bool) (uint64, error) {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	if noOverwrite {
		if _, err := a.Stat(ctx, destContainer, destKey); err == nil {
			return 0, conflictErr("provider.aws", "CopyObject", destKey)
		}
	}

	if src.Provider != types.ProviderAWS {
		return 0, orcherrors.New(orcherrors.CodeInvalidArgument,
			"AWSAdapter.CopyObject only accepts AWS sources; cross-provider copy is composed by the caller").
			WithComponent("provider.aws").WithOperation("CopyObject")
	}

	copySource := fmt.Sprintf("%s/%s", src.Container, src.Key)
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(destContainer),
		Key:        aws.String(destKey),
		CopySource: aws.String(copySource),
	})
	if err != nil {
		return 0, translateAWSError("provider.aws", "CopyObject", destKey, err)
	}

	return src.SizeBytes, nil
}

// Delete removes an object; a missing object is treated as success.
func (a *AWSAdapter) Delete(ctx context.Context, container, key string) error {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil
		}
		return translateAWSError("provider.aws", "Delete", key, err)
	}
	return nil
}

// SetStorageClass triggers an S3 storage-class transition via a
// self-copy with the target class, since S3 has no in-place tier-change
// API distinct from CopyObject.
func (a *AWSAdapter) SetStorageClass(ctx context.Context, container, key string, class string) error {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	copySource := fmt.Sprintf("%s/%s", container, key)
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(container),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource),
		StorageClass:      s3types.StorageClass(class),
		MetadataDirective: s3types.MetadataDirectiveCopy,
	})
	if err != nil {
		return translateAWSError("provider.aws", "SetStorageClass", key, err)
	}
	return nil
}

// translateAWSError maps the SDK's error shapes onto the shared
// taxonomy. Unknown errors fall back to Transient when the SDK marks
// them retryable, otherwise Unavailable.
func translateAWSError(component, op, key string, err error) error {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return notFoundErr(component, op, key)
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return notFoundErr(component, op, key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException":
			return permissionErr(component, op, err)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "ThrottlingException":
			return transientErr(component, op, err)
		case "TooManyRequests":
			return quotaErr(component, op, err)
		}
	}

	var throttle interface{ RetryableError() bool }
	if errors.As(err, &throttle) && throttle.RetryableError() {
		return transientErr(component, op, err)
	}

	return unavailableErr(component, op, err)
}
