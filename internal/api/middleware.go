package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hooklens/hooklens/internal/identity"
)

type contextKey string

const identityContextKey contextKey = "identity"

// AnonymousIDHeader carries the client-generated anonymous id for callers
// without a session. Clients generate it once and reuse it.
const AnonymousIDHeader = "X-Anonymous-Id"

func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	ident, ok := ctx.Value(identityContextKey).(identity.Identity)
	return ident, ok
}

// IdentityMiddleware resolves the caller's identity for the management
// surface and stores it in the request context. A bearer session token wins
// over the anonymous id header; neither means 401.
func IdentityMiddleware(resolver *identity.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sessionToken string
			if auth := r.Header.Get("Authorization"); auth != "" {
				token := strings.TrimPrefix(auth, "Bearer ")
				if token == auth {
					writeError(w, http.StatusUnauthorized, "authorization format must be: Bearer <token>")
					return
				}
				sessionToken = token
			}

			ident, err := resolver.Resolve(r.Context(), sessionToken, r.Header.Get(AnonymousIDHeader))
			if err != nil {
				switch {
				case errors.Is(err, identity.ErrTokenExpired):
					writeError(w, http.StatusUnauthorized, "session token expired")
				case errors.Is(err, identity.ErrTokenInvalid):
					writeError(w, http.StatusUnauthorized, "invalid session token")
				case errors.Is(err, identity.ErrNoIdentity):
					writeError(w, http.StatusUnauthorized, "sign in or supply the "+AnonymousIDHeader+" header")
				default:
					writeError(w, http.StatusInternalServerError, "internal error")
				}
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func LoggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.statusCode).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush and Hijack pass through so the SSE feed and websocket upgrade keep
// working behind the logging wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
