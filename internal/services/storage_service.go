// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

const maxProductImageBytes = 5 * 1024 * 1024

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// StorageService stores product images on S3. Without AWS credentials it
// only hands back a URL under the public server address, which is enough for
// local development.
type StorageService struct {
	s3Client s3iface.S3API
	cfg      *config.Config
	logger   *logrus.Entry
}

type UploadResult struct {
	URL      string `json:"url"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

func NewStorageService(cfg *config.Config) (*StorageService, error) {
	svc := &StorageService{
		cfg:    cfg,
		logger: logrus.WithField("component", "storage"),
	}
	if cfg.AWS.AccessKeyID == "" {
		svc.logger.Warn("AWS credentials not set, uploads use local URLs")
		return svc, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	svc.s3Client = s3.New(sess)
	return svc, nil
}

// newStorageServiceWithClient is used by tests to plug a fake S3.
func newStorageServiceWithClient(cfg *config.Config, client s3iface.S3API) *StorageService {
	return &StorageService{
		s3Client: client,
		cfg:      cfg,
		logger:   logrus.WithField("component", "storage"),
	}
}

// UploadProductImage sniffs the content type from the bytes themselves; the
// client supplied name and header are not trusted.
func (s *StorageService) UploadProductImage(ctx context.Context, storeID uuid.UUID, r io.Reader, size int64) (*UploadResult, error) {
	if size > maxProductImageBytes {
		return nil, utils.NewValidationError(
			fmt.Sprintf("file size %d bytes exceeds maximum allowed size %d bytes", size, maxProductImageBytes), nil)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxProductImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxProductImageBytes {
		return nil, utils.NewValidationError("file too large", nil)
	}
	if len(data) == 0 {
		return nil, utils.NewValidationError("empty file", nil)
	}

	mimeType := http.DetectContentType(data)
	ext, ok := allowedImageTypes[mimeType]
	if !ok {
		return nil, utils.NewValidationError("file type is not allowed", map[string]string{"mime_type": mimeType})
	}

	key := s.objectKey(storeID, ext)

	if s.s3Client == nil {
		return &UploadResult{
			URL:      strings.TrimRight(s.cfg.Server.PublicURL, "/") + "/uploads/" + key,
			Key:      key,
			Size:     int64(len(data)),
			MimeType: mimeType,
		}, nil
	}

	_, err = s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.AWS.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
		ACL:           aws.String(s3.ObjectCannedACLPublicRead),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"store_id": storeID,
		"key":      key,
		"size":     len(data),
	}).Info("Product image uploaded")

	return &UploadResult{
		URL:      s.publicURL(key),
		Key:      key,
		Size:     int64(len(data)),
		MimeType: mimeType,
	}, nil
}

func (s *StorageService) DeleteFile(ctx context.Context, key string) error {
	if s.s3Client == nil {
		return nil
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.AWS.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

func (s *StorageService) objectKey(storeID uuid.UUID, ext string) string {
	return path.Join("products", storeID.String(), time.Now().UTC().Format("20060102"), uuid.NewString()+ext)
}

func (s *StorageService) publicURL(key string) string {
	if s.cfg.AWS.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.AWS.CloudFrontURL, "/"), key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.AWS.S3Bucket, s.cfg.AWS.Region, key)
}
