package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/observability"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

var (
	errMissingKey        = errors.New("missing API key")
	errUnsupportedScheme = errors.New("unsupported authorization scheme, use Bearer")
	errInvalidKey        = errors.New("invalid API key")
)

// Middleware admits requests carrying a key the validator accepts, either in
// X-API-Key or as an Authorization Bearer token, and stores the resolved
// Identity on the request context.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	logger = observability.Component(logger, "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, source, err := credentialFromRequest(r)
			if err == nil {
				identity, ok := validator.Validate(r.Context(), apiKey)
				if ok {
					observability.Annotate(r.Context(), slog.String("auth_principal", identity.Principal))
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
					return
				}
				err = errInvalidKey
			}

			if !errors.Is(err, errMissingKey) {
				logger.WarnContext(r.Context(), "authentication failed",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("route", r.Pattern),
					slog.String("credential_source", source),
					slog.String("reason", err.Error()),
				)
			}
			writeUnauthorized(w, r, err)
		})
	}
}

// credentialFromRequest prefers X-API-Key over Authorization. source names
// the header the key came from.
func credentialFromRequest(r *http.Request) (key, source string, err error) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "x-api-key", nil
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return "", "", errMissingKey
	}
	scheme, token, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", "authorization", errUnsupportedScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "authorization", errMissingKey
	}
	return token, "authorization", nil
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tablechat"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    err.Error(),
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
