package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/vendorhub-backend/pkg/auth"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
)

type counterStore struct {
	counts map[string]int64
	err    error
}

func (c *counterStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *counterStore) RateLimitKey(parts ...string) string {
	return "rl:" + strings.Join(parts, ":")
}

func TestRateLimitBlocksPerCaller(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}}
	handler := RateLimit(RateLimitPolicy{Name: "payments", Window: time.Minute, Limit: 2}, store, nil)(okHandler())
	buyer := auth.Actor{UserID: uuid.New(), Role: enums.RoleBuyer}

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithActor(req.Context(), buyer))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodPost, "/", nil)
	other.RemoteAddr = "203.0.113.9:4411"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, other)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(1), store.counts["rl:payments:ip:203.0.113.9"])
}

func TestRateLimitFailsOpen(t *testing.T) {
	store := &counterStore{counts: map[string]int64{}, err: errors.New("redis down")}
	handler := RateLimit(RateLimitPolicy{Name: "webhooks", Window: time.Minute, Limit: 1}, store, nil)(okHandler())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}
