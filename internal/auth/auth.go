// Package auth validates bearer tokens and derives the caller's entitlement.
// Tokens are issued elsewhere; this package only verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ignite/emailfinder/internal/config"
	"github.com/ignite/emailfinder/internal/pkg/httputil"
	"github.com/ignite/emailfinder/internal/pkg/logger"
)

// ErrInvalidToken is returned for a token that fails signature, expiry or
// issuer checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims the API understands.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
	// SubscriptionExpiresAt is the end of the caller's paid period.
	SubscriptionExpiresAt *jwt.NumericDate `json:"subscription_expires_at,omitempty"`
}

// Caller is the identity attached to a request. The zero value is an
// anonymous caller.
type Caller struct {
	Subject               string
	Role                  string
	SubscriptionExpiresAt time.Time
	Authenticated         bool
	Admin                 bool
}

// IsAdmin reports whether the caller holds the administrative role.
func (c Caller) IsAdmin() bool { return c.Authenticated && c.Admin }

// Entitled reports whether the caller may see unmasked results: an
// authenticated admin, or an authenticated caller whose subscription has
// not yet expired at now.
func (c Caller) Entitled(now time.Time) bool {
	if !c.Authenticated {
		return false
	}
	if c.Admin {
		return true
	}
	return !c.SubscriptionExpiresAt.IsZero() && now.Before(c.SubscriptionExpiresAt)
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the caller stored in ctx, or an anonymous caller.
func FromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret    []byte
	adminRole string
	issuer    string
	now       func() time.Time
}

// NewAuthenticator creates an Authenticator from cfg.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	role := cfg.AdminRole
	if role == "" {
		role = "admin"
	}
	return &Authenticator{
		secret:    []byte(cfg.JWTSecret),
		adminRole: role,
		issuer:    cfg.Issuer,
		now:       time.Now,
	}
}

// GenerateToken signs a token for subject. A zero subExpires means no paid
// subscription.
func (a *Authenticator) GenerateToken(subject, role string, subExpires time.Time, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	if !subExpires.IsZero() {
		claims.SubscriptionExpiresAt = jwt.NewNumericDate(subExpires)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies tokenString and returns the caller it describes.
func (a *Authenticator) Parse(tokenString string) (Caller, error) {
	if len(a.secret) == 0 {
		return Caller{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Caller{}, ErrInvalidToken
	}

	c := Caller{
		Subject:       claims.Subject,
		Role:          claims.Role,
		Authenticated: true,
		Admin:         claims.Role == a.adminRole,
	}
	if claims.SubscriptionExpiresAt != nil {
		c.SubscriptionExpiresAt = claims.SubscriptionExpiresAt.Time
	}
	return c, nil
}

// Entitled reports whether the caller in ctx may see unmasked results now.
func (a *Authenticator) Entitled(ctx context.Context) bool {
	return FromContext(ctx).Entitled(a.now())
}

// Middleware attaches the caller to the request context. Requests without
// an Authorization header continue as anonymous; a header carrying an
// invalid token is rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearer(header)
		if !ok {
			unauthorized(w, "malformed authorization header")
			return
		}
		c, err := a.Parse(raw)
		if err != nil {
			logger.Debug("auth: rejected token", "path", r.URL.Path, "error", err)
			unauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
	})
}

// RequireAdmin rejects anonymous callers with 401 and non-admin callers
// with 403. It must run after Middleware.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := FromContext(r.Context())
		switch {
		case !c.Authenticated:
			unauthorized(w, "authentication required")
		case !c.IsAdmin():
			httputil.Forbidden(w, "admin role required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="emailfinder"`)
	httputil.Unauthorized(w, msg)
}
