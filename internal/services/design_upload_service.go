package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bakejoy/api/internal/platform/textutil"
)

var (
	// ErrDesignUploadInvalidInput signals bad upload request data.
	ErrDesignUploadInvalidInput = errors.New("design upload: invalid input")
	// ErrDesignUploadSigner indicates the storage signer rejected or failed the request.
	ErrDesignUploadSigner = errors.New("design upload: signer failure")
)

const maxDesignImageBytes = 10 << 20

var allowedDesignImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// SignedUpload describes a presigned upload slot returned by the asset store.
type SignedUpload struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// UploadURLSigner produces signed upload URLs for design image objects.
type UploadURLSigner interface {
	SignUpload(ctx context.Context, objectPath, contentType string, maxSize int64) (SignedUpload, error)
}

// ObjectPathBuilder composes the storage object key for a design image.
type ObjectPathBuilder func(userID, uploadID, fileName string) (string, error)

// CreateDesignUploadCommand requests a presigned slot for a custom design image.
type CreateDesignUploadCommand struct {
	UserID      string
	FileName    string
	ContentType string
}

// DesignUpload is the presigned slot handed back to the client. The client
// uploads the image and then attaches ObjectPath to a cart item.
type DesignUpload struct {
	UploadID   string
	ObjectPath string
	UploadURL  string
	Method     string
	ExpiresAt  time.Time
	Headers    map[string]string
}

// DesignUploadServiceDeps bundles collaborators for the design upload service.
type DesignUploadServiceDeps struct {
	Signer      UploadURLSigner
	PathBuilder ObjectPathBuilder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type designUploadService struct {
	signer    UploadURLSigner
	buildPath ObjectPathBuilder
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewDesignUploadService wires dependencies into a concrete DesignUploadService.
func NewDesignUploadService(deps DesignUploadServiceDeps) (DesignUploadService, error) {
	if deps.Signer == nil {
		return nil, errors.New("design upload service: signer is required")
	}
	if deps.PathBuilder == nil {
		return nil, errors.New("design upload service: path builder is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &designUploadService{
		signer:    deps.Signer,
		buildPath: deps.PathBuilder,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *designUploadService) CreateUploadURL(ctx context.Context, cmd CreateDesignUploadCommand) (DesignUpload, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return DesignUpload{}, fmt.Errorf("%w: user id is required", ErrDesignUploadInvalidInput)
	}

	contentType := normaliseContentType(cmd.ContentType)
	ext, ok := allowedDesignImageTypes[contentType]
	if !ok {
		return DesignUpload{}, fmt.Errorf("%w: content type %q is not an accepted image format", ErrDesignUploadInvalidInput, cmd.ContentType)
	}

	fileName, err := normaliseUploadFileName(cmd.FileName, ext)
	if err != nil {
		return DesignUpload{}, err
	}

	uploadID := strings.ToLower(s.newID())
	objectPath, err := s.buildPath(userID, uploadID, fileName)
	if err != nil {
		return DesignUpload{}, fmt.Errorf("%w: %v", ErrDesignUploadInvalidInput, err)
	}

	signed, err := s.signer.SignUpload(ctx, objectPath, contentType, maxDesignImageBytes)
	if err != nil {
		s.logger(ctx, "design_upload.sign_failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return DesignUpload{}, fmt.Errorf("%w: %v", ErrDesignUploadSigner, err)
	}

	s.logger(ctx, "design_upload.created", map[string]any{
		"user_id":     userID,
		"upload_id":   uploadID,
		"object_path": objectPath,
	})

	return DesignUpload{
		UploadID:   uploadID,
		ObjectPath: objectPath,
		UploadURL:  signed.URL,
		Method:     signed.Method,
		ExpiresAt:  signed.ExpiresAt,
		Headers:    textutil.NormalizeStringMap(signed.Headers),
	}, nil
}

func normaliseContentType(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(trimmed); err == nil {
		return parsed
	}
	return trimmed
}

func normaliseUploadFileName(raw, fallbackExt string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "image" + fallbackExt, nil
	}
	name = filepath.Base(name)
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: file name is invalid", ErrDesignUploadInvalidInput)
	}
	if filepath.Ext(name) == "" {
		name += fallbackExt
	}
	return name, nil
}
