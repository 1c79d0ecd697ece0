package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/bakejoy/api/internal/platform/config"
	"google.golang.org/api/option"
)

// FirebaseVerifier implements TokenVerifier and UserGetter on top of the
// Firebase Admin SDK. One instance is shared across all requests.
type FirebaseVerifier struct {
	admin   *firebaseauth.Client
	timeout time.Duration
}

// FirebaseOption customises a FirebaseVerifier.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout bounds individual Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier initialises the Admin SDK for the configured project.
// Credentials come from the configured file when present, otherwise from
// application default credentials.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	admin, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	verifier := &FirebaseVerifier{admin: admin, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

// VerifyIDToken checks the token signature and claims against the project.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.admin.VerifyIDToken(callCtx, idToken)
}

// GetUser fetches the Firebase user record for a UID.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.admin.GetUser(callCtx, uid)
}

func (v *FirebaseVerifier) ready() error {
	if v == nil || v.admin == nil {
		return errors.New("firebase verifier not initialised")
	}
	if v.timeout <= 0 {
		v.timeout = defaultVerifyTimeout
	}
	return nil
}
