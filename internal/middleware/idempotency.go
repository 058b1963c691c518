package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/amara-dev/wallet-backend/internal/auth"
	"github.com/amara-dev/wallet-backend/internal/handler"
	"github.com/amara-dev/wallet-backend/internal/logging"
	"github.com/amara-dev/wallet-backend/internal/repository"
)

type idempotencyRepository interface {
	Claim(ctx context.Context, key string, userID uuid.UUID, requestHash string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string, userID uuid.UUID) (*repository.IdempotencyCacheEntry, error)
	Complete(ctx context.Context, key string, userID uuid.UUID, statusCode int, responseBody []byte) error
	Release(ctx context.Context, key string, userID uuid.UUID) error
}

const idempotencyTTL = 24 * time.Hour

func Idempotency(repo idempotencyRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}

			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			reqHash := computeHash(r.Method, r.URL.Path, body)

			// Claim before executing the handler. The insert under the
			// (key, user_id) primary key is the guard against two racing
			// requests both reaching the handler.
			claimed, err := repo.Claim(r.Context(), key, userID, reqHash, idempotencyTTL)
			if err != nil {
				log := logging.FromContext(r.Context())
				log.Error("idempotency claim failed", "error", err, "idempotency_key", key)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}

			if !claimed {
				cached, err := repo.Get(r.Context(), key, userID)
				if err != nil {
					log := logging.FromContext(r.Context())
					log.Error("idempotency cache lookup failed", "error", err, "idempotency_key", key)
					handler.RespondAppError(w, handler.ErrInternalError, nil)
					return
				}
				switch {
				case cached == nil:
					// Entry expired between the claim and the lookup.
					handler.RespondAppError(w, handler.ErrIdempotencyInFlight, nil)
				case cached.RequestHash != reqHash:
					handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
				case cached.Pending():
					handler.RespondAppError(w, handler.ErrIdempotencyInFlight, nil)
				default:
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotent-Replayed", "true")
					w.WriteHeader(cached.StatusCode)
					if _, err := w.Write(cached.ResponseBody); err != nil {
						log := logging.FromContext(r.Context())
						log.Error("failed to write idempotent replay", "error", err, "idempotency_key", key)
					}
				}
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// A 5xx means the outcome is unknown or transient. Releasing the
			// claim lets the client retry with the same key instead of
			// replaying a failure for the TTL.
			if rec.statusCode >= http.StatusInternalServerError {
				if err := repo.Release(r.Context(), key, userID); err != nil {
					log := logging.FromContext(r.Context())
					log.Error("idempotency claim release failed", "error", err, "idempotency_key", key)
				}
				return
			}

			if err := repo.Complete(r.Context(), key, userID, rec.statusCode, rec.body.Bytes()); err != nil {
				log := logging.FromContext(r.Context())
				log.Error("idempotency cache store failed", "error", err, "idempotency_key", key)
			}
		})
	}
}

func computeHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return fmt.Sprintf("%x", h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
