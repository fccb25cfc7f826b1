package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/longhaul-ai/longhaul/internal/auth"
	"github.com/longhaul-ai/longhaul/internal/ratelimit"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

type contextKey int

const apiKeyContextKey contextKey = iota

// keyFrom returns the authenticated key for the request, if any.
func keyFrom(r *http.Request) *models.APIKey {
	key, _ := r.Context().Value(apiKeyContextKey).(*models.APIKey)
	return key
}

// extractSecret pulls the candidate key from Authorization: Bearer,
// X-Api-Key, or (for SSE routes only) the api_key query parameter.
func extractSecret(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[len("bearer "):])
		}
	}
	if h := r.Header.Get("X-Api-Key"); h != "" {
		return strings.TrimSpace(h)
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("api_key"))
	}
	return ""
}

// secured wraps a handler with key validation, scope and rate-limit checks.
// allowQuery admits ?api_key= credentials, used only on SSE routes where
// EventSource cannot set headers.
func (s *Server) secured(scope models.Scope, allowQuery bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := extractSecret(r, allowQuery)
		if secret == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "api key required")
			return
		}
		key, err := s.keys.Validate(secret)
		switch {
		case errors.Is(err, auth.ErrKeyExpired), errors.Is(err, auth.ErrKeyRevoked):
			writeError(w, http.StatusForbidden, codeForbidden, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid api key")
			return
		}
		if !key.HasScope(scope) {
			writeError(w, http.StatusForbidden, codeForbidden,
				fmt.Sprintf("key lacks required scope %q", scope))
			return
		}

		res := s.limiter.Check(key.ID, key.RateLimit)
		setRateLimitHeaders(w, res)
		if !res.Allowed {
			retryAfter := int(time.Until(res.Reset).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			if s.metrics != nil {
				s.metrics.RateLimitDenials.Inc()
			}
			writeRateLimited(w, retryAfter)
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
		next(w, r.WithContext(ctx))
	}
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming flushes through to the underlying writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument is the outermost wrapper: request id, panic recovery, metrics,
// access logging.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				if s.logger != nil {
					s.logger.Error("handler panic",
						"request_id", requestID, "path", r.URL.Path, "panic", p)
				}
				writeError(rec, http.StatusInternalServerError, codeInternal, "internal error")
			}
			if s.metrics != nil {
				s.metrics.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(rec.status), time.Since(start).Seconds())
			}
			if s.logger != nil {
				s.logger.Info("http request",
					"request_id", requestID, "method", r.Method, "path", r.URL.Path,
					"status", rec.status, "duration", time.Since(start))
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// routePattern keeps metric cardinality bounded by using the matched route
// instead of the raw path.
func routePattern(r *http.Request) string {
	if p := r.Pattern; p != "" {
		if _, after, found := strings.Cut(p, " "); found {
			return after
		}
		return p
	}
	return "unmatched"
}
