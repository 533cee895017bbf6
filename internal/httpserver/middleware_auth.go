package httpserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/logger"
)

type contextKey string

const adminIdentityKey contextKey = "admin_identity"

// adminIdentity returns who authenticated this request: the JWT email, or
// "api_key" for the shared-secret path.
func adminIdentity(ctx context.Context) string {
	if v, ok := ctx.Value(adminIdentityKey).(string); ok {
		return v
	}
	return ""
}

// adminAuth guards the admin surface. A bearer token is accepted either as
// the shared ADMIN_API_KEY or as an HS256 JWT whose email is on the admin
// allowlist or in the admin table.
func (h handlers) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			apierrors.WriteKind(w, apierrors.KindUnauthorized, "missing bearer token")
			return
		}

		if key := h.cfg.Admin.APIKey; key != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			ctx := context.WithValue(r.Context(), adminIdentityKey, "api_key")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if h.cfg.Supabase.JWTSecret == "" {
			apierrors.WriteKind(w, apierrors.KindUnauthorized, "invalid bearer token")
			return
		}

		email, err := h.verifyAdminJWT(token)
		if err != nil {
			apierrors.WriteKind(w, apierrors.KindUnauthorized, "invalid bearer token")
			return
		}
		ok, err := h.isAdmin(r.Context(), email)
		if err != nil {
			apierrors.Write(w, err)
			return
		}
		if !ok {
			log := logger.FromContext(r.Context())
			log.Warn().
				Str("email", logger.RedactEmail(email)).
				Msg("auth.admin.denied")
			apierrors.WriteKind(w, apierrors.KindForbidden, "not an administrator")
			return
		}

		ctx := context.WithValue(r.Context(), adminIdentityKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyAdminJWT checks signature and expiry and extracts the email claim,
// falling back to the subject.
func (h handlers) verifyAdminJWT(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.cfg.Supabase.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	if email, ok := claims["email"].(string); ok && email != "" {
		return email, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return sub, nil
}

// isAdmin consults the configured email allowlist first, then the admin
// table in the audit store.
func (h handlers) isAdmin(ctx context.Context, email string) (bool, error) {
	for _, allowed := range h.cfg.Admin.Emails {
		if strings.EqualFold(allowed, email) {
			return true, nil
		}
	}
	if h.audit == nil {
		return false, nil
	}
	return h.audit.IsAdmin(ctx, email)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const scheme = "Bearer "
	if len(auth) > len(scheme) && strings.EqualFold(auth[:len(scheme)], scheme) {
		return strings.TrimSpace(auth[len(scheme):])
	}
	return ""
}

// adminMetricsAuth protects /metrics with a dedicated key. An empty key
// leaves the endpoint open, for clusters where scraping is network-gated.
func adminMetricsAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			supplied := r.Header.Get("X-API-Key")
			if supplied == "" {
				supplied = bearerToken(r)
			}
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(key)) != 1 {
				apierrors.WriteKind(w, apierrors.KindUnauthorized, "metrics access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// noStoreMiddleware marks public responses uncacheable.
func noStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
