package auth

import (
	"context"
	"errors"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles recognised by the shop API. Customers sign up as plain users,
// bakery staff manage orders, and admins additionally manage templates
// and notification history.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// UserLoader fetches the Firebase user profile backing a UID.
type UserLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// ErrUserLoaderUnavailable is returned by Identity.User when the middleware
// was assembled without a user getter.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// Identity is the authenticated principal carried through request contexts.
// It holds the claims every handler needs directly and loads the full
// Firebase user record lazily on first request.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string

	idToken *firebaseauth.Token

	loadUser  UserLoader
	loadOnce  sync.Once
	record    *firebaseauth.UserRecord
	recordErr error
}

// Token returns the decoded Firebase ID token the identity was built from.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.idToken
}

// HasRole reports whether the identity carries the given role. Comparison is
// case-insensitive so claim values written by different tools still match.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	want := normaliseRole(role)
	if want == "" {
		return false
	}
	for _, have := range i.Roles {
		if normaliseRole(have) == want {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether at least one of the given roles is present.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// User resolves the full Firebase user record for this identity. The first
// call hits the Admin SDK; subsequent calls return the memoised result,
// including a memoised error.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.loadUser == nil {
		return nil, ErrUserLoaderUnavailable
	}
	i.loadOnce.Do(func() {
		i.record, i.recordErr = i.loadUser(ctx, i.UID)
	})
	return i.record, i.recordErr
}

type identityKey struct{}

// WithIdentity attaches the identity to the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the auth middleware,
// if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
