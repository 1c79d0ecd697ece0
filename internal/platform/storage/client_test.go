package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bakejoy/api/internal/platform/auth"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func TestSignUploadSuccess(t *testing.T) {
	signer := &fakeSigner{email: "uploads@bakejoy.iam.gserviceaccount.com"}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, "bakejoy-designs", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	res, err := client.SignUpload(context.Background(), UploadParams{
		ObjectPath:          "designs/user-7/upload456/cake.png",
		ContentType:         "image/png",
		ContentMD5:          "xN0dYbCPv0CM0k9d1u8G7g==",
		AllowedContentTypes: []string{"image/*"},
		MaxSize:             1 << 20,
		ExpiresIn:           10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("SignUpload returned error: %v", err)
	}

	if res.Method != "PUT" {
		t.Fatalf("expected method PUT, got %s", res.Method)
	}
	if !res.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}
	if res.Headers["Content-Type"] != "image/png" {
		t.Fatalf("expected Content-Type header, got %v", res.Headers)
	}
	if res.Headers["Content-MD5"] != "xN0dYbCPv0CM0k9d1u8G7g==" {
		t.Fatalf("expected Content-MD5 header, got %v", res.Headers)
	}
	if res.Headers["x-goog-content-length-range"] != "0,1048576" {
		t.Fatalf("expected content length header, got %v", res.Headers)
	}

	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("failed to parse signed URL: %v", err)
	}
	if !strings.Contains(parsed.RawQuery, "X-Goog-Signature=") {
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	}
	if len(signer.payloads) == 0 {
		t.Fatalf("expected signer to be invoked")
	}
}

func TestSignUploadRejectsInvalidContentType(t *testing.T) {
	signer := &fakeSigner{email: "uploads@bakejoy.iam.gserviceaccount.com"}
	client, err := NewClient(signer, "bakejoy-designs")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	_, err = client.SignUpload(context.Background(), UploadParams{
		ObjectPath:          "designs/user-7/upload456/recipe.pdf",
		ContentType:         "application/pdf",
		AllowedContentTypes: []string{"image/png", "image/jpeg"},
	})
	if !errors.Is(err, errContentTypeDenied) {
		t.Fatalf("expected errContentTypeDenied, got %v", err)
	}
}

func TestSignUploadRejectsMalformedMD5(t *testing.T) {
	signer := &fakeSigner{email: "uploads@bakejoy.iam.gserviceaccount.com"}
	client, err := NewClient(signer, "bakejoy-designs")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	_, err = client.SignUpload(context.Background(), UploadParams{
		ObjectPath:  "designs/user-7/upload456/cake.png",
		ContentType: "image/png",
		ContentMD5:  "not base64!!",
	})
	if !errors.Is(err, errMD5Invalid) {
		t.Fatalf("expected errMD5Invalid, got %v", err)
	}
}

func TestSignDownloadPermissionDenied(t *testing.T) {
	signer := &fakeSigner{email: "uploads@bakejoy.iam.gserviceaccount.com"}
	client, err := NewClient(signer, "bakejoy-designs")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	_, err = client.SignDownload(context.Background(), DownloadParams{
		ObjectPath: "designs/owner-123/upload456/cake.png",
		OwnerID:    "owner-123",
		Identity:   &auth.Identity{UID: "other-456"},
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSignDownloadAllowsStaff(t *testing.T) {
	signer := &fakeSigner{email: "uploads@bakejoy.iam.gserviceaccount.com"}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, "bakejoy-designs", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	res, err := client.SignDownload(context.Background(), DownloadParams{
		ObjectPath: "designs/owner-123/upload456/cake.png",
		OwnerID:    "owner-123",
		Identity:   &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}},
		ExpiresIn:  5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Method != "GET" {
		t.Fatalf("expected GET method, got %s", res.Method)
	}
	if !res.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", res.ExpiresAt)
	}
}

func TestSignDownloadExpiryTooLong(t *testing.T) {
	signer := &fakeSigner{email: "uploads@bakejoy.iam.gserviceaccount.com"}
	client, err := NewClient(signer, "bakejoy-designs")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	_, err = client.SignDownload(context.Background(), DownloadParams{
		ObjectPath: "designs/owner/upload456/cake.png",
		OwnerID:    "owner",
		Identity:   &auth.Identity{UID: "owner", Roles: []string{auth.RoleUser}},
		ExpiresIn:  30 * time.Minute,
	})
	if !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}
}
