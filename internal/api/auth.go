package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated means the request carried no usable identity.
var ErrUnauthenticated = errors.New("missing or invalid credentials")

type contextKey string

const ctxKeyOwner contextKey = "owner"

// Auth produces the authentication middleware. An interface so handler tests
// can inject an identity without minting tokens.
type Auth interface {
	Middleware() func(http.Handler) http.Handler
}

// JWTAuth validates RS256 bearer tokens against a JWKS endpoint and exposes
// the token subject as the request's owner identity.
type JWTAuth struct {
	jwks   keyfunc.Keyfunc
	logger *slog.Logger
}

// NewJWTAuth fetches and periodically refreshes keys from jwksURL. The given
// context bounds the background refresh, not the initial fetch.
func NewJWTAuth(ctx context.Context, jwksURL string, logger *slog.Logger) (*JWTAuth, error) {
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, err
	}
	return &JWTAuth{jwks: jwks, logger: logger}, nil
}

// NewJWTAuthWithKeyfunc injects a keyfunc directly. Used in tests.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{jwks: kf, logger: logger}
}

func (a *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				jsonError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, a.jwks.KeyfuncCtx(r.Context()),
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
			)
			if err != nil || !token.Valid {
				a.logger.Debug("token validation failed", "remote_addr", r.RemoteAddr, "error", err)
				jsonError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				jsonError(w, http.StatusUnauthorized, "token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyOwner, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ownerFromContext returns the authenticated identity, or "".
func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ctxKeyOwner).(string)
	return owner
}

// requireOwner extracts the authenticated identity, answering 401 when the
// auth middleware supplied none.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := ownerFromContext(r.Context())
	if owner == "" {
		jsonError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
		return "", false
	}
	return owner, true
}
