// Package upload stores scene panoramas in R2 and returns their public URLs.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/panotour/internal/image"
)

// Allowed MIME types for uploads
const (
	MIMEImageJPEG = "image/jpeg"
	MIMEImagePNG  = "image/png"
)

// KeyPrefix is the object key prefix of scene panoramas.
const KeyPrefix = "scenes/"

// Validation errors
var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrFileTooLarge    = errors.New("file size exceeds maximum allowed")
	ErrEmptyFile       = errors.New("file size must be positive")
)

// AllowedMIMETypes maps allowed MIME types to their file extensions
var AllowedMIMETypes = map[string]string{
	MIMEImageJPEG: ".jpg",
	MIMEImagePNG:  ".png",
}

// File is an uploaded panorama.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Uploaded describes a stored panorama.
type Uploaded struct {
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// SignedURLRequest represents a request for a signed upload URL.
type SignedURLRequest struct {
	Filename    string
	ContentType string
	SizeBytes   int64
}

// SignedURLResponse is a pre-signed PUT URL and where the object will be
// served from once uploaded.
type SignedURLResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	PublicURL string    `json:"publicUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sanitizer re-encodes a panorama before it is stored.
type Sanitizer interface {
	Process(r io.Reader) (*image.Result, error)
}

// ObjectStore is the subset of the S3 API used for direct uploads.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Service handles panorama uploads to R2.
type Service struct {
	objects       ObjectStore
	presignClient *s3.PresignClient
	sanitizer     Sanitizer
	bucketName    string
	publicBaseURL string
	maxSizeBytes  int64
	urlExpiry     time.Duration
	timeNow       func() time.Time
}

// ServiceConfig holds configuration for the upload service.
type ServiceConfig struct {
	BucketName       string
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	PublicBaseURL    string
	MaxSizeMB        int
	URLExpiryMinutes int
}

const (
	defaultMaxSizeMB        = 25
	defaultURLExpiryMinutes = 5
)

// missing names the required settings that are empty.
func (c ServiceConfig) missing() []string {
	var names []string
	for _, f := range []struct{ name, value string }{
		{"bucket name", c.BucketName},
		{"access key ID", c.AccessKeyID},
		{"secret access key", c.SecretAccessKey},
		{"endpoint", c.Endpoint},
		{"public base URL", c.PublicBaseURL},
	} {
		if f.value == "" {
			names = append(names, f.name)
		}
	}
	return names
}

// NewService creates a new upload service with the given configuration.
// sanitizer may be nil, in which case files are stored as received.
func NewService(cfg ServiceConfig, sanitizer Sanitizer) (*Service, error) {
	if names := cfg.missing(); len(names) > 0 {
		return nil, fmt.Errorf("upload: missing %s", strings.Join(names, ", "))
	}
	maxMB, expiry := cfg.MaxSizeMB, cfg.URLExpiryMinutes
	if maxMB <= 0 {
		maxMB = defaultMaxSizeMB
	}
	if expiry <= 0 {
		expiry = defaultURLExpiryMinutes
	}

	// R2 takes the "auto" region, path-style addressing and no session token.
	client := s3.New(s3.Options{
		Region:       "auto",
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Service{
		objects:       client,
		presignClient: s3.NewPresignClient(client),
		sanitizer:     sanitizer,
		bucketName:    cfg.BucketName,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxSizeBytes:  int64(maxMB) << 20,
		urlExpiry:     time.Duration(expiry) * time.Minute,
		timeNow:       time.Now,
	}, nil
}

// MaxSizeBytes returns the upload size limit.
func (s *Service) MaxSizeBytes() int64 {
	return s.maxSizeBytes
}

// HealthCheck verifies that the bucket is reachable with the configured
// credentials.
func (s *Service) HealthCheck(ctx context.Context) error {
	_, err := s.objects.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	if err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", s.bucketName, err)
	}
	return nil
}

// ValidateContentType checks if the content type is allowed.
func ValidateContentType(contentType string) error {
	if _, ok := AllowedMIMETypes[contentType]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// ValidateFileSize checks if the file size is within limits.
func (s *Service) ValidateFileSize(sizeBytes int64) error {
	switch {
	case sizeBytes <= 0:
		return ErrEmptyFile
	case sizeBytes > s.maxSizeBytes:
		return ErrFileTooLarge
	default:
		return nil
	}
}

// admit applies the type and size checks shared by both upload paths.
func (s *Service) admit(contentType string, size int64) error {
	if err := ValidateContentType(contentType); err != nil {
		return err
	}
	return s.ValidateFileSize(size)
}

// ObjectKey builds the key for a panorama uploaded at t:
// scenes/{unix millis}-{sanitised filename}.
func ObjectKey(filename, contentType string, t time.Time) string {
	name := sanitizeFilename(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." {
		name = "panorama" + AllowedMIMETypes[contentType]
	}
	return fmt.Sprintf("%s%d-%s", KeyPrefix, t.UnixMilli(), name)
}

// sanitizeFilename keeps alphanumerics, dots, hyphens and underscores;
// whitespace becomes a hyphen.
func sanitizeFilename(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.':
			result.WriteRune(r)
		case r == ' ' || r == '\t':
			result.WriteRune('-')
		}
	}
	return strings.TrimLeft(result.String(), ".")
}

// PublicURL returns the URL an object is served from.
func (s *Service) PublicURL(key string) string {
	return s.publicBaseURL + "/" + key
}

// Upload sanitises and stores a panorama, returning its key and public URL.
func (s *Service) Upload(ctx context.Context, f File) (*Uploaded, error) {
	if err := s.admit(f.ContentType, f.Size); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(f.Body, s.maxSizeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(body)) > s.maxSizeBytes {
		return nil, ErrFileTooLarge
	}

	out := &Uploaded{}
	contentType := f.ContentType
	filename := f.Name
	if s.sanitizer != nil {
		res, err := s.sanitizer.Process(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to sanitise panorama: %w", err)
		}
		body = res.Data
		contentType = res.ContentType
		out.Width, out.Height = res.Width, res.Height
		filename = strings.TrimSuffix(filename, path.Ext(filename)) + AllowedMIMETypes[contentType]
	}

	key := ObjectKey(filename, contentType, s.timeNow())
	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store panorama: %w", err)
	}

	out.Key = key
	out.PublicURL = s.PublicURL(key)
	return out, nil
}

// GenerateSignedURL generates a pre-signed PUT URL for direct upload to R2.
// Files uploaded this way are not sanitised.
func (s *Service) GenerateSignedURL(ctx context.Context, req SignedURLRequest) (*SignedURLResponse, error) {
	if err := s.admit(req.ContentType, req.SizeBytes); err != nil {
		return nil, err
	}

	now := s.timeNow()
	key := ObjectKey(req.Filename, req.ContentType, now)

	signed, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		ContentType:   aws.String(req.ContentType),
		ContentLength: aws.Int64(req.SizeBytes),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign request: %w", err)
	}

	return &SignedURLResponse{
		URL:       signed.URL,
		Key:       key,
		PublicURL: s.PublicURL(key),
		ExpiresAt: now.Add(s.urlExpiry),
	}, nil
}
