package aws_s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/RiemaLabs/charms-indexer/checkpoint"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
)

type Uploader struct {
	uploader *manager.Uploader
	bucket   string
}

func NewUploader(ctx context.Context, accessKey, secretKey, region, bucket string) (*Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config, error: %v", err)
	}
	return NewUploaderWithClient(s3.NewFromConfig(cfg), bucket), nil
}

func NewUploaderWithClient(client *s3.Client, bucket string) *Uploader {
	return &Uploader{uploader: manager.NewUploader(client), bucket: bucket}
}

func (u *Uploader) Name() string {
	return "s3"
}

func (u *Uploader) Upload(ctx context.Context, c *checkpoint.Checkpoint) error {
	checkpointJSON, err := json.Marshal(c)
	if err != nil {
		return err
	}
	objectKey := c.ObjectKey()
	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(checkpointJSON),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return err
	}
	logs.Infof("Checkpoint %s uploaded to S3 successfully!", objectKey)
	return nil
}
