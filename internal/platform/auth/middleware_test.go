package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type fakeVerifier struct {
	token *firebaseauth.Token
	err   error
	seen  string
}

func (f *fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	f.seen = idToken
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

type fakeUserGetter struct {
	record *firebaseauth.UserRecord
	calls  int
	uid    string
}

func (f *fakeUserGetter) GetUser(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
	f.calls++
	f.uid = uid
	return f.record, nil
}

func protectedProbe(t *testing.T, check func(t *testing.T, identity *Identity, ctx context.Context)) (http.Handler, *bool) {
	t.Helper()
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("identity missing from request context")
		}
		if check != nil {
			check(t, identity, r.Context())
		}
		w.WriteHeader(http.StatusNoContent)
	}), &called
}

func decodeDenial(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("denial body is not JSON: %v", err)
	}
	return body
}

func TestRequireFirebaseAuthAdmitsStaffForAdminRoutes(t *testing.T) {
	verifier := &fakeVerifier{
		token: &firebaseauth.Token{
			UID: "staff-7",
			Claims: map[string]interface{}{
				"role":   []interface{}{"staff"},
				"locale": "fa-IR",
				"email":  "dispatch@bakejoy.example",
			},
		},
	}
	users := &fakeUserGetter{record: &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: "staff-7"}}}

	probe, called := protectedProbe(t, func(t *testing.T, identity *Identity, ctx context.Context) {
		if identity.UID != "staff-7" {
			t.Fatalf("uid = %q, want staff-7", identity.UID)
		}
		if !identity.HasAnyRole(RoleStaff, RoleAdmin) {
			t.Fatalf("roles %v should satisfy the staff gate", identity.Roles)
		}
		if identity.Locale != "fa-IR" {
			t.Fatalf("locale = %q, want fa-IR", identity.Locale)
		}

		first, err := identity.User(ctx)
		if err != nil {
			t.Fatalf("load user: %v", err)
		}
		second, err := identity.User(ctx)
		if err != nil {
			t.Fatalf("reload user: %v", err)
		}
		if first != second {
			t.Fatalf("user record should be memoised")
		}
	})

	authn := NewAuthenticator(verifier, WithUserGetter(users))
	handler := authn.RequireFirebaseAuth(RoleStaff, RoleAdmin)(probe)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer staff-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rr.Code, rr.Body.String())
	}
	if !*called {
		t.Fatalf("handler never ran")
	}
	if verifier.seen != "staff-token" {
		t.Fatalf("verifier saw %q, want staff-token", verifier.seen)
	}
	if users.calls != 1 || users.uid != "staff-7" {
		t.Fatalf("user getter calls=%d uid=%q, want one call for staff-7", users.calls, users.uid)
	}
}

func TestRequireFirebaseAuthRejectsExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&fakeVerifier{err: ErrTokenExpired})

	probe, called := protectedProbe(t, nil)
	handler := authn.RequireFirebaseAuth(RoleUser)(probe)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if *called {
		t.Fatalf("handler must not run on an expired token")
	}
	if body := decodeDenial(t, rr); body["error"] != "token_expired" {
		t.Fatalf("error = %v, want token_expired", body["error"])
	}
}

func TestRequireFirebaseAuthDefaultsNewCustomersToUserRole(t *testing.T) {
	verifier := &fakeVerifier{
		token: &firebaseauth.Token{UID: "customer-1", Claims: map[string]interface{}{}},
	}
	authn := NewAuthenticator(verifier)

	probe, _ := protectedProbe(t, func(t *testing.T, identity *Identity, _ context.Context) {
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
			t.Fatalf("roles = %v, want the fallback user role", identity.Roles)
		}
	})
	handler := authn.RequireFirebaseAuth()(probe)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer fresh-customer")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
}

func TestRequireFirebaseAuthRejectsCustomerOnStaffGate(t *testing.T) {
	verifier := &fakeVerifier{
		token: &firebaseauth.Token{
			UID:    "customer-2",
			Claims: map[string]interface{}{"role": "user"},
		},
	}
	authn := NewAuthenticator(verifier)

	probe, called := protectedProbe(t, nil)
	handler := authn.RequireFirebaseAuth(RoleStaff, RoleAdmin)(probe)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/orders/o-1/status", nil)
	req.Header.Set("Authorization", "Bearer customer-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if *called {
		t.Fatalf("customer must not reach staff routes")
	}
	if body := decodeDenial(t, rr); body["error"] != "insufficient_role" {
		t.Fatalf("error = %v, want insufficient_role", body["error"])
	}
}

func TestRequireFirebaseAuthRequiresBearerHeader(t *testing.T) {
	authn := NewAuthenticator(&fakeVerifier{})
	probe, called := protectedProbe(t, nil)
	handler := authn.RequireFirebaseAuth()(probe)

	for _, header := range []string{"", "Basic dXNlcg==", "Bearer", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rr.Code)
		}
	}
	if *called {
		t.Fatalf("handler must not run without a bearer token")
	}
}

func TestClaimRolesAcceptsEveryHistoricalShape(t *testing.T) {
	cases := map[string]struct {
		raw  interface{}
		want []string
	}{
		"single string":    {"Admin", []string{"admin"}},
		"string slice":     {[]string{"staff", "staff", "admin"}, []string{"staff", "admin"}},
		"interface slice":  {[]interface{}{"user", 42, "user"}, []string{"user"}},
		"granted-role map": {map[string]interface{}{"staff": true, "admin": false}, []string{"staff"}},
		"unsupported":      {3.14, nil},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := claimRoles(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("claimRoles(%v) = %v, want %v", tc.raw, got, tc.want)
			}
			for _, want := range tc.want {
				found := false
				for _, role := range got {
					if role == want {
						found = true
					}
				}
				if !found {
					t.Fatalf("claimRoles(%v) = %v, missing %q", tc.raw, got, want)
				}
			}
		})
	}
}
