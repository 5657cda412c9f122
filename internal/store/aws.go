package store

import (
	"bytes"
	"context"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type S3Uploader struct {
	Client *s3.Client
	Bucket string
}

func NewS3Uploader(i *do.Injector) (Uploader, error) {
	bucket := do.MustInvokeNamed[string](i, "bucket")
	if bucket == "" {
		return NopUploader{}, nil
	}
	return &S3Uploader{Client: do.MustInvoke[*s3.Client](i), Bucket: bucket}, nil
}

// objectMetadata makes user metadata safe to send as x-amz-meta-* headers.
func objectMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return lo.MapValues(m, func(v string, _ string) string {
		return url.QueryEscape(v)
	})
}

func (u *S3Uploader) Upload(ctx context.Context, params UploadParams) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("s3").With("bucket", u.Bucket, "key", params.Name)
	log.Debug("putting object", "bytes", len(params.Data))

	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.Bucket),
		Key:           aws.String(params.Name),
		ContentType:   aws.String(params.ContentType),
		ContentLength: aws.Int64(int64(len(params.Data))),
		Body:          bytes.NewReader(params.Data),
		Metadata:      objectMetadata(params.Metadata),
		StorageClass:  s3types.StorageClassIntelligentTiering,
	})
	if err != nil {
		return &PersistenceError{Op: "upload", Path: "s3://" + u.Bucket + "/" + params.Name, Err: err}
	}
	return nil
}

type CloudFrontInvalidator struct {
	Client       *cloudfront.Client
	Distribution string
}

func NewCloudFrontInvalidator(i *do.Injector) (Invalidator, error) {
	distribution := do.MustInvokeNamed[string](i, "distribution")
	if distribution == "" {
		return NopInvalidator{}, nil
	}
	return &CloudFrontInvalidator{Client: do.MustInvoke[*cloudfront.Client](i), Distribution: distribution}, nil
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("cloudfront").With("paths", paths, "distribution", i.Distribution)
	log.Info("invalidating paths in cloudfront")

	_, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(time.Now().UTC().Format("20060102150405.000")),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	return err
}
