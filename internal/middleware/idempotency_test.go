package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amara-dev/wallet-backend/internal/auth"
	"github.com/amara-dev/wallet-backend/internal/handler"
	"github.com/amara-dev/wallet-backend/internal/repository"
)

// memIdempotencyRepo mirrors the Postgres repository's semantics: Claim is
// atomic on (key, userID), so exactly one of any set of racing claimants wins.
type memIdempotencyRepo struct {
	mu      sync.Mutex
	entries map[string]*repository.IdempotencyCacheEntry
}

func newMemIdempotencyRepo() *memIdempotencyRepo {
	return &memIdempotencyRepo{entries: map[string]*repository.IdempotencyCacheEntry{}}
}

func cacheKey(key string, userID uuid.UUID) string {
	return key + "|" + userID.String()
}

func (m *memIdempotencyRepo) Claim(_ context.Context, key string, userID uuid.UUID, requestHash string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cacheKey(key, userID)
	if _, ok := m.entries[k]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	m.entries[k] = &repository.IdempotencyCacheEntry{
		Key:         key,
		UserID:      userID,
		RequestHash: requestHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	return true, nil
}

func (m *memIdempotencyRepo) Get(_ context.Context, key string, userID uuid.UUID) (*repository.IdempotencyCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cacheKey(key, userID)]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (m *memIdempotencyRepo) Complete(_ context.Context, key string, userID uuid.UUID, statusCode int, responseBody []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[cacheKey(key, userID)]; ok {
		e.StatusCode = statusCode
		e.ResponseBody = responseBody
	}
	return nil
}

func (m *memIdempotencyRepo) Release(_ context.Context, key string, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, cacheKey(key, userID))
	return nil
}

func idempotentRequest(userID uuid.UUID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(auth.ContextWithUserID(req.Context(), userID))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) handler.APIResponse {
	t.Helper()
	var resp handler.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestIdempotency_RequiresKey(t *testing.T) {
	var executions atomic.Int32
	h := Idempotency(newMemIdempotencyRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executions.Add(1)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(uuid.New(), "", `{"amount":"10"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MISSING_IDEMPOTENCY_KEY", resp.Error.Code)
	assert.Equal(t, int32(0), executions.Load())
}

func TestIdempotency_SkipsSafeMethods(t *testing.T) {
	var executions atomic.Int32
	h := Idempotency(newMemIdempotencyRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executions.Add(1)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, int32(1), executions.Load())
}

func TestIdempotency_ReplaysCachedResponse(t *testing.T) {
	var executions atomic.Int32
	h := Idempotency(newMemIdempotencyRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executions.Add(1)
		handler.RespondSuccess(w, http.StatusCreated, map[string]string{"id": "tx-1"})
	}))

	userID := uuid.New()
	body := `{"recipient_email":"b@example.com","amount":"10.00"}`

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(userID, "key-1", body))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(userID, "key-1", body))

	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), executions.Load(), "replay must not reach the handler")
}

func TestIdempotency_ConflictOnDifferentRequest(t *testing.T) {
	var executions atomic.Int32
	h := Idempotency(newMemIdempotencyRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executions.Add(1)
		handler.RespondSuccess(w, http.StatusCreated, nil)
	}))

	userID := uuid.New()

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(userID, "key-1", `{"amount":"10.00"}`))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(userID, "key-1", `{"amount":"99.00"}`))

	assert.Equal(t, http.StatusConflict, second.Code)
	resp := decodeEnvelope(t, second)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", resp.Error.Code)
	assert.Equal(t, int32(1), executions.Load())
}

func TestIdempotency_KeysAreScopedPerUser(t *testing.T) {
	var executions atomic.Int32
	h := Idempotency(newMemIdempotencyRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executions.Add(1)
		handler.RespondSuccess(w, http.StatusCreated, nil)
	}))

	body := `{"amount":"10.00"}`

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(uuid.New(), "shared-key", body))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(uuid.New(), "shared-key", body))

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, int32(2), executions.Load())
}

// Two racing requests with one key must execute the handler at most once. The
// first claims and blocks inside the handler; the second runs to completion
// while the claim is still pending and must be turned away, not executed.
func TestIdempotency_ConcurrentSameKeyExecutesOnce(t *testing.T) {
	var executions atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	h := Idempotency(newMemIdempotencyRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executions.Add(1)
		close(entered)
		<-release
		handler.RespondSuccess(w, http.StatusCreated, map[string]string{"id": "tx-1"})
	}))

	userID := uuid.New()
	body := `{"recipient_email":"b@example.com","amount":"40.00"}`

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(first, idempotentRequest(userID, "key-race", body))
	}()

	<-entered
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(userID, "key-race", body))

	assert.Equal(t, http.StatusConflict, second.Code)
	resp := decodeEnvelope(t, second)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "IDEMPOTENT_REQUEST_IN_FLIGHT", resp.Error.Code)

	close(release)
	<-done
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, int32(1), executions.Load(), "only one racing request may reach the handler")

	third := httptest.NewRecorder()
	h.ServeHTTP(third, idempotentRequest(userID, "key-race", body))
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get("X-Idempotent-Replayed"))
	assert.Equal(t, int32(1), executions.Load())
}

func TestIdempotency_ReleasesClaimOnServerError(t *testing.T) {
	var executions atomic.Int32
	h := Idempotency(newMemIdempotencyRepo())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if executions.Add(1) == 1 {
			handler.RespondAppError(w, handler.ErrTransferFailed, nil)
			return
		}
		handler.RespondSuccess(w, http.StatusCreated, nil)
	}))

	userID := uuid.New()
	body := `{"amount":"10.00"}`

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(userID, "key-retry", body))
	require.Equal(t, http.StatusInternalServerError, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(userID, "key-retry", body))

	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Empty(t, second.Header().Get("X-Idempotent-Replayed"))
	assert.Equal(t, int32(2), executions.Load(), "retry after a server error must execute again")
}
