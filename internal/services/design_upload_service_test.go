package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type stubUploadSigner struct {
	signed  SignedUpload
	err     error
	path    string
	ctype   string
	maxSize int64
}

func (s *stubUploadSigner) SignUpload(_ context.Context, objectPath, contentType string, maxSize int64) (SignedUpload, error) {
	s.path = objectPath
	s.ctype = contentType
	s.maxSize = maxSize
	if s.err != nil {
		return SignedUpload{}, s.err
	}
	return s.signed, nil
}

func testPathBuilder(userID, uploadID, fileName string) (string, error) {
	return fmt.Sprintf("designs/%s/%s/%s", userID, uploadID, fileName), nil
}

func TestDesignUploadServiceCreatesSignedSlot(t *testing.T) {
	expires := time.Date(2026, 3, 14, 16, 15, 0, 0, time.UTC)
	signer := &stubUploadSigner{signed: SignedUpload{
		URL:       "https://storage.googleapis.com/bakejoy-designs/signed",
		Method:    "PUT",
		ExpiresAt: expires,
		Headers:   map[string]string{"Content-Type": "image/png"},
	}}

	svc, err := NewDesignUploadService(DesignUploadServiceDeps{
		Signer:      signer,
		PathBuilder: testPathBuilder,
		IDGenerator: func() string { return "01JUPLOAD" },
	})
	if err != nil {
		t.Fatalf("NewDesignUploadService: %v", err)
	}

	upload, err := svc.CreateUploadURL(context.Background(), CreateDesignUploadCommand{
		UserID:      "user-7",
		FileName:    "Unicorn Cake.PNG",
		ContentType: "image/png",
	})
	if err != nil {
		t.Fatalf("CreateUploadURL: %v", err)
	}

	if upload.UploadID != "01jupload" {
		t.Fatalf("unexpected upload id %q", upload.UploadID)
	}
	if upload.ObjectPath != "designs/user-7/01jupload/Unicorn Cake.PNG" {
		t.Fatalf("unexpected object path %q", upload.ObjectPath)
	}
	if upload.UploadURL != signer.signed.URL || upload.Method != "PUT" {
		t.Fatalf("unexpected upload %+v", upload)
	}
	if !upload.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected expiry %s", upload.ExpiresAt)
	}
	if signer.ctype != "image/png" {
		t.Fatalf("unexpected content type passed to signer: %q", signer.ctype)
	}
	if signer.maxSize != maxDesignImageBytes {
		t.Fatalf("unexpected max size %d", signer.maxSize)
	}
}

func TestDesignUploadServiceDefaultsFileName(t *testing.T) {
	signer := &stubUploadSigner{signed: SignedUpload{URL: "https://example.test/u", Method: "PUT"}}
	svc, err := NewDesignUploadService(DesignUploadServiceDeps{
		Signer:      signer,
		PathBuilder: testPathBuilder,
		IDGenerator: func() string { return "01JUPLOAD" },
	})
	if err != nil {
		t.Fatalf("NewDesignUploadService: %v", err)
	}

	upload, err := svc.CreateUploadURL(context.Background(), CreateDesignUploadCommand{
		UserID:      "user-7",
		ContentType: "image/webp",
	})
	if err != nil {
		t.Fatalf("CreateUploadURL: %v", err)
	}
	if !strings.HasSuffix(upload.ObjectPath, "/image.webp") {
		t.Fatalf("expected default file name, got %q", upload.ObjectPath)
	}
}

func TestDesignUploadServiceRejectsNonImageContentType(t *testing.T) {
	svc, err := NewDesignUploadService(DesignUploadServiceDeps{
		Signer:      &stubUploadSigner{},
		PathBuilder: testPathBuilder,
	})
	if err != nil {
		t.Fatalf("NewDesignUploadService: %v", err)
	}

	_, err = svc.CreateUploadURL(context.Background(), CreateDesignUploadCommand{
		UserID:      "user-7",
		FileName:    "recipe.pdf",
		ContentType: "application/pdf",
	})
	if !errors.Is(err, ErrDesignUploadInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestDesignUploadServiceWrapsSignerFailure(t *testing.T) {
	svc, err := NewDesignUploadService(DesignUploadServiceDeps{
		Signer:      &stubUploadSigner{err: errors.New("sign quota exceeded")},
		PathBuilder: testPathBuilder,
	})
	if err != nil {
		t.Fatalf("NewDesignUploadService: %v", err)
	}

	_, err = svc.CreateUploadURL(context.Background(), CreateDesignUploadCommand{
		UserID:      "user-7",
		ContentType: "image/jpeg",
	})
	if !errors.Is(err, ErrDesignUploadSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}
