package services

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type fakeS3 struct {
	s3iface.S3API
	puts []*s3.PutObjectInput
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func storageConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{PublicURL: "http://localhost:8080/"},
		AWS:    config.AWSConfig{Region: "us-east-1", S3Bucket: "media", CloudFrontURL: "https://cdn.example.com"},
	}
}

func TestUploadProductImageToS3(t *testing.T) {
	client := &fakeS3{}
	svc := newStorageServiceWithClient(storageConfig(), client)
	storeID := uuid.New()

	result, err := svc.UploadProductImage(context.Background(), storeID, bytes.NewReader(pngHeader), int64(len(pngHeader)))
	require.NoError(t, err)

	require.Len(t, client.puts, 1)
	assert.Equal(t, "media", aws.StringValue(client.puts[0].Bucket))
	assert.Equal(t, "image/png", aws.StringValue(client.puts[0].ContentType))
	assert.True(t, strings.HasPrefix(result.Key, "products/"+storeID.String()+"/"))
	assert.True(t, strings.HasSuffix(result.Key, ".png"))
	assert.Equal(t, "https://cdn.example.com/"+result.Key, result.URL)
}

func TestUploadProductImageLocalFallback(t *testing.T) {
	svc := newStorageServiceWithClient(storageConfig(), nil)

	result, err := svc.UploadProductImage(context.Background(), uuid.New(), bytes.NewReader(pngHeader), int64(len(pngHeader)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "http://localhost:8080/uploads/products/"))
}

func TestUploadProductImageRejectsNonImages(t *testing.T) {
	svc := newStorageServiceWithClient(storageConfig(), &fakeS3{})

	_, err := svc.UploadProductImage(context.Background(), uuid.New(), strings.NewReader("#!/bin/sh\necho hi"), 17)
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	_, err = svc.UploadProductImage(context.Background(), uuid.New(), bytes.NewReader(pngHeader), maxProductImageBytes+1)
	assert.True(t, utils.IsKind(err, utils.KindValidation))
}
