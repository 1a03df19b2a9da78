package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/peerlab/gateway/internal/platform/httpx"
)

// UserAuthConfig configures the end-user authentication middleware.
type UserAuthConfig struct {
	Logger *slog.Logger
	Keys   *KeySet
	Issuer string

	// Bypass substitutes DevSubject for credential verification. Development
	// only; never enable in production.
	Bypass     bool
	DevSubject string
}

// UserAuth verifies the end-user bearer token and stores an EndUser principal
// in the request context. Requests without a valid token receive 401.
func UserAuth(cfg UserAuthConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Bypass {
				ctx := ContextWithPrincipal(r.Context(), NewEndUser(cfg.DevSubject))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := bearerToken(r)
			if token == "" {
				logger.Warn("missing bearer token", slog.String("path", r.URL.Path))
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}

			subject, err := verifyToken(r, cfg, token)
			if err != nil {
				logger.Warn("token verification failed", slog.Any("error", err))
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), NewEndUser(subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyToken(r *http.Request, cfg UserAuthConfig, token string) (string, error) {
	if cfg.Keys == nil {
		return "", fmt.Errorf("identity: jwks not configured")
	}

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("identity: token missing key id")
		}
		return cfg.Keys.Key(r.Context(), kid)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyfunc, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("identity: token has no subject")
	}
	return claims.Subject, nil
}

// AgentAuth requires the configured agent key as a bearer credential. The
// comparison runs in constant time over digests so neither content nor length
// leaks through timing.
func AgentAuth(logger *slog.Logger, agentKey string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	want := sha256.Sum256([]byte(agentKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := sha256.Sum256([]byte(bearerToken(r)))
			if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
				logger.Warn("unauthorized service api access", slog.String("path", r.URL.Path))
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			ctx := ContextWithPrincipal(r.Context(), Agent{})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}
