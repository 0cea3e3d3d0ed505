package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"ticket-pass/internal/clock"
)

func TestRedisStore_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	now := time.Unix(1_761_998_400, 0)
	store := &redisStore{redis: db, limit: 2, window: time.Second, clock: clock.Fake(now)}
	key := "ratelimit:gate:north-1:1761998400"

	for i, want := range []bool{true, true, false} {
		mock.ExpectTxPipeline()
		mock.ExpectIncr(key).SetVal(int64(i + 1))
		mock.ExpectExpire(key, time.Second).SetVal(true)
		mock.ExpectTxPipelineExec()

		allowed, err := store.Allow("gate:north-1")
		assert.NoError(t, err)
		assert.Equal(t, want, allowed, "request %d", i+1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_FailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := &redisStore{redis: db, limit: 1, window: time.Second, clock: clock.Fake(time.Unix(0, 0))}

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:10.0.0.1:0").SetErr(errors.New("connection refused"))

	allowed, err := store.Allow("10.0.0.1")
	assert.NoError(t, err)
	assert.True(t, allowed)
}

func TestRequireGateID(t *testing.T) {
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("gate_id").(string))
	}, RequireGateID())

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "north-1", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"bad characters", "north 1;drop", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.header != "" {
				req.Header.Set(GateIDHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, tc.header, rec.Body.String())
			}
		})
	}
}
