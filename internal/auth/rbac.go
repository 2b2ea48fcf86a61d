// Package auth guards the back office. Operators sign in with HTTP basic
// auth and act under one of three roles; customer accounts use bearer API
// keys, which are resolved by the account repository.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
)

// Role groups the permissions of a consultant account.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleConsultant Role = "consultant"
	RoleViewer     Role = "viewer"
)

// AdminUser is a back-office operator. Consultants deliver expert audits;
// viewers can only browse the concierge queue.
type AdminUser struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Permission names one admin capability.
type Permission string

const (
	PermissionConciergeRead    Permission = "concierge:read"
	PermissionConciergeDeliver Permission = "concierge:deliver"
	PermissionUploadRead       Permission = "upload:read"
	PermissionAdminManage      Permission = "admin:manage"
)

var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: {
		PermissionConciergeRead:    true,
		PermissionConciergeDeliver: true,
		PermissionUploadRead:       true,
		PermissionAdminManage:      true,
	},
	RoleConsultant: {
		PermissionConciergeRead:    true,
		PermissionConciergeDeliver: true,
		PermissionUploadRead:       true,
	},
	RoleViewer: {
		PermissionConciergeRead: true,
		PermissionUploadRead:    true,
	},
}

// HasPermission reports whether role grants permission. Unknown roles grant
// nothing.
func HasPermission(role Role, permission Permission) bool {
	return rolePermissions[role][permission]
}

// AdminUserRepository loads and stores consultant accounts.
type AdminUserRepository interface {
	GetByUsername(ctx context.Context, username string) (*AdminUser, error)
	GetByID(ctx context.Context, id string) (*AdminUser, error)
	Create(ctx context.Context, user *AdminUser) error
	Update(ctx context.Context, user *AdminUser) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*AdminUser, error)
}

// unknownUserHash is compared against when the username does not exist so
// both failure paths cost one bcrypt comparison.
var unknownUserHash, _ = bcrypt.GenerateFromPassword([]byte("unknown-operator"), bcrypt.DefaultCost)

// Authenticator checks consultant credentials.
type Authenticator struct {
	repo AdminUserRepository
}

// NewAuthenticator returns an Authenticator backed by repo.
func NewAuthenticator(repo AdminUserRepository) *Authenticator {
	return &Authenticator{repo: repo}
}

// Authenticate returns the account for a valid username and password.
// Unknown users cost the same bcrypt work as a wrong password.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*AdminUser, error) {
	user, err := a.repo.GetByUsername(ctx, username)
	if err != nil {
		bcrypt.CompareHashAndPassword(unknownUserHash, []byte(password))
		return nil, ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}
	if !user.Enabled {
		return nil, ErrUnauthorized
	}

	return user, nil
}

// HashPassword returns the bcrypt hash stored for a consultant.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type contextKey struct{}

// WithUser attaches the authenticated consultant to ctx.
func WithUser(ctx context.Context, user *AdminUser) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the consultant attached by RequireAuth.
func UserFromContext(ctx context.Context) (*AdminUser, bool) {
	user, ok := ctx.Value(contextKey{}).(*AdminUser)
	return user, ok
}

// ConsultantID is the operator recorded on a delivered audit, or "" when
// the admin API runs without sign-in.
func ConsultantID(ctx context.Context) string {
	if user, ok := UserFromContext(ctx); ok {
		return user.ID
	}
	return ""
}

// RBACMiddleware guards admin routes with HTTP basic auth and role
// permissions.
type RBACMiddleware struct {
	auth *Authenticator
}

// NewRBACMiddleware returns middleware that authenticates through auth.
func NewRBACMiddleware(auth *Authenticator) *RBACMiddleware {
	return &RBACMiddleware{auth: auth}
}

// RequireAuth rejects requests without valid basic auth credentials.
func (m *RBACMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Cost Audit Concierge"`)
			deny(w, http.StatusUnauthorized, "missing_credentials", "authentication required")
			return
		}

		user, err := m.auth.Authenticate(r.Context(), username, password)
		switch {
		case errors.Is(err, ErrUnauthorized):
			deny(w, http.StatusUnauthorized, "disabled", "operator disabled")
			return
		case err != nil:
			deny(w, http.StatusUnauthorized, "bad_credentials", "invalid credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequirePermission must wrap a handler already behind RequireAuth.
func (m *RBACMiddleware) RequirePermission(permission Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "missing_credentials", "authentication required")
				return
			}
			if !HasPermission(user.Role, permission) {
				deny(w, http.StatusForbidden, "forbidden", "role "+string(user.Role)+" lacks "+string(permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// deny writes the admin API's {"error": ...} body.
func deny(w http.ResponseWriter, status int, reason, message string) {
	metrics.RecordAdminAuthFailure(reason)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ExtractBearerToken returns the API key of an "Authorization: Bearer"
// header, or "" when the header is missing or uses another scheme.
func ExtractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
