package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testSeedPassword = "s3cret-admin"

func newTestRepo(t *testing.T) *InMemoryAdminUserRepository {
	t.Helper()
	repo, err := NewInMemoryAdminUserRepository(testSeedPassword)
	if err != nil {
		t.Fatalf("NewInMemoryAdminUserRepository() error = %v", err)
	}
	return repo
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name       string
		role       Role
		permission Permission
		want       bool
	}{
		{"admin concierge:read", RoleAdmin, PermissionConciergeRead, true},
		{"admin concierge:deliver", RoleAdmin, PermissionConciergeDeliver, true},
		{"admin upload:read", RoleAdmin, PermissionUploadRead, true},
		{"admin admin:manage", RoleAdmin, PermissionAdminManage, true},

		{"consultant concierge:read", RoleConsultant, PermissionConciergeRead, true},
		{"consultant concierge:deliver", RoleConsultant, PermissionConciergeDeliver, true},
		{"consultant upload:read", RoleConsultant, PermissionUploadRead, true},
		{"consultant admin:manage", RoleConsultant, PermissionAdminManage, false},

		{"viewer concierge:read", RoleViewer, PermissionConciergeRead, true},
		{"viewer concierge:deliver", RoleViewer, PermissionConciergeDeliver, false},
		{"viewer upload:read", RoleViewer, PermissionUploadRead, true},
		{"viewer admin:manage", RoleViewer, PermissionAdminManage, false},

		{"unknown role", Role("unknown"), PermissionConciergeRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.permission); got != tt.want {
				t.Errorf("HasPermission(%v, %v) = %v, want %v", tt.role, tt.permission, got, tt.want)
			}
		})
	}
}

func TestHashPassword(t *testing.T) {
	password := "test-password-123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if hash == "" {
		t.Error("HashPassword() returned empty hash")
	}
	if hash == password {
		t.Error("HashPassword() returned unhashed password")
	}

	// bcrypt salts every hash
	hash2, _ := HashPassword(password)
	if hash == hash2 {
		t.Error("HashPassword() should produce different hashes due to random salt")
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	auth := NewAuthenticator(newTestRepo(t))

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid credentials", "admin", testSeedPassword, nil},
		{"wrong password", "admin", "wrong", ErrInvalidPassword},
		{"unknown user", "unknown", "password", ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := auth.Authenticate(context.Background(), tt.username, tt.password)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Authenticate() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("Authenticate() unexpected error = %v", err)
			}
			if user.Username != tt.username {
				t.Errorf("Authenticate() user.Username = %v, want %v", user.Username, tt.username)
			}
		})
	}
}

func TestAuthenticator_DisabledUser(t *testing.T) {
	repo := newTestRepo(t)

	hash, _ := HashPassword("password")
	repo.Create(context.Background(), &AdminUser{
		ID:           "disabled-user",
		Username:     "disabled",
		PasswordHash: hash,
		Role:         RoleConsultant,
		Enabled:      false,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})

	auth := NewAuthenticator(repo)

	_, err := auth.Authenticate(context.Background(), "disabled", "password")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Authenticate() disabled user error = %v, want %v", err, ErrUnauthorized)
	}

	// A wrong password must not reveal that the operator exists but is disabled.
	_, err = auth.Authenticate(context.Background(), "disabled", "guess")
	if !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("Authenticate() disabled user, wrong password error = %v, want %v", err, ErrInvalidPassword)
	}
}

func TestConsultantID(t *testing.T) {
	if got := ConsultantID(context.Background()); got != "" {
		t.Errorf("ConsultantID() without user = %q, want empty", got)
	}

	ctx := WithUser(context.Background(), &AdminUser{ID: "consultant-7", Role: RoleConsultant})
	if got := ConsultantID(ctx); got != "consultant-7" {
		t.Errorf("ConsultantID() = %q, want consultant-7", got)
	}
}

func TestUserContext(t *testing.T) {
	user := &AdminUser{ID: "test-id", Username: "testuser", Role: RoleAdmin}
	ctx := context.Background()

	if _, ok := UserFromContext(ctx); ok {
		t.Error("UserFromContext() should return false for empty context")
	}

	ctx = WithUser(ctx, user)
	gotUser, ok := UserFromContext(ctx)
	if !ok {
		t.Fatal("UserFromContext() should return true after WithUser")
	}
	if gotUser.ID != user.ID {
		t.Errorf("UserFromContext() user.ID = %v, want %v", gotUser.ID, user.ID)
	}
}

func TestRBACMiddleware_RequireAuth(t *testing.T) {
	middleware := NewRBACMiddleware(NewAuthenticator(newTestRepo(t)))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			t.Error("User should be in context after auth")
		} else if user.Username != "admin" {
			t.Errorf("Username = %v, want admin", user.Username)
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		username   string
		password   string
		wantStatus int
	}{
		{"valid auth", "admin", testSeedPassword, http.StatusOK},
		{"wrong password", "admin", "wrong", http.StatusUnauthorized},
		{"no auth", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin/concierge", nil)
			if tt.username != "" {
				req.SetBasicAuth(tt.username, tt.password)
			}

			rr := httptest.NewRecorder()
			middleware.RequireAuth(handler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("RequireAuth() status = %v, want %v", rr.Code, tt.wantStatus)
			}
			if tt.username == "" && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("RequireAuth() should send a WWW-Authenticate challenge")
			}
		})
	}
}

func TestRBACMiddleware_RequirePermission(t *testing.T) {
	middleware := &RBACMiddleware{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		role       Role
		permission Permission
		wantStatus int
	}{
		{"admin can deliver", RoleAdmin, PermissionConciergeDeliver, http.StatusOK},
		{"consultant can deliver", RoleConsultant, PermissionConciergeDeliver, http.StatusOK},
		{"viewer cannot deliver", RoleViewer, PermissionConciergeDeliver, http.StatusForbidden},
		{"consultant cannot manage", RoleConsultant, PermissionAdminManage, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &AdminUser{ID: "test", Username: "test", Role: tt.role}
			req := httptest.NewRequest("POST", "/admin/concierge/u1/deliver", nil)
			req = req.WithContext(WithUser(req.Context(), user))

			rr := httptest.NewRecorder()
			middleware.RequirePermission(tt.permission)(handler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("RequirePermission() status = %v, want %v", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body map[string]string
				if err := json.NewDecoder(rr.Body).Decode(&body); err != nil || !strings.Contains(body["error"], string(tt.permission)) {
					t.Errorf("forbidden body = %v (%v), want error naming %s", body, err, tt.permission)
				}
			}
		})
	}
}

func TestRBACMiddleware_CountsFailures(t *testing.T) {
	metrics.AdminAuthFailures.Reset()
	middleware := NewRBACMiddleware(NewAuthenticator(newTestRepo(t)))
	handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/admin/concierge", nil)
	req.SetBasicAuth("admin", "wrong")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/admin/concierge", nil))

	if got := testutil.ToFloat64(metrics.AdminAuthFailures.WithLabelValues("bad_credentials")); got != 1 {
		t.Errorf("bad_credentials = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.AdminAuthFailures.WithLabelValues("missing_credentials")); got != 1 {
		t.Errorf("missing_credentials = %v, want 1", got)
	}
}

func TestRBACMiddleware_RequirePermission_NoUser(t *testing.T) {
	middleware := &RBACMiddleware{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/admin/concierge", nil)
	rr := httptest.NewRecorder()

	middleware.RequirePermission(PermissionConciergeRead)(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("RequirePermission() without user status = %v, want %v", rr.Code, http.StatusUnauthorized)
	}
}

func TestInMemoryAdminUserRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, err := repo.GetByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("GetByUsername(admin) error = %v", err)
	}
	if user.Role != RoleAdmin {
		t.Errorf("seeded admin role = %v, want %v", user.Role, RoleAdmin)
	}

	newUser := &AdminUser{
		ID:           "consultant-1",
		Username:     "maria",
		PasswordHash: "hash",
		Role:         RoleViewer,
		Enabled:      true,
		CreatedAt:    time.Now().Add(time.Minute),
		UpdatedAt:    time.Now(),
	}
	if err := repo.Create(ctx, newUser); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "consultant-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Username != "maria" {
		t.Errorf("GetByID() username = %v, want maria", got.Username)
	}

	// returned users are copies
	got.Role = RoleAdmin
	again, _ := repo.GetByID(ctx, "consultant-1")
	if again.Role != RoleViewer {
		t.Errorf("mutating a returned user changed the stored role to %v", again.Role)
	}

	newUser.Role = RoleConsultant
	if err := repo.Update(ctx, newUser); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, "consultant-1")
	if got.Role != RoleConsultant {
		t.Errorf("Update() role = %v, want %v", got.Role, RoleConsultant)
	}

	users, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("List() count = %v, want 2", len(users))
	}
	if users[0].ID != "consultant-1" {
		t.Errorf("List() first = %v, want newest user consultant-1", users[0].ID)
	}

	if err := repo.Delete(ctx, "consultant-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "consultant-1"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID after delete error = %v, want %v", err, ErrUserNotFound)
	}
	if err := repo.Delete(ctx, "non-existent"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Delete non-existent error = %v, want %v", err, ErrUserNotFound)
	}
	if err := repo.Update(ctx, &AdminUser{ID: "non-existent"}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Update non-existent error = %v, want %v", err, ErrUserNotFound)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid bearer", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer ca-key-1", "ca-key-1"},
		{"scheme only", "Bearer", ""},
		{"no bearer prefix", "abc123", ""},
		{"empty header", "", ""},
		{"basic auth", "Basic dXNlcjpwYXNz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			if got := ExtractBearerToken(req); got != tt.want {
				t.Errorf("ExtractBearerToken() = %v, want %v", got, tt.want)
			}
		})
	}
}
