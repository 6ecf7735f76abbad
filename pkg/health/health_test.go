package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeBody struct {
	Status string
	Checks map[string]string
}

func serve(t *testing.T, fn http.HandlerFunc) (int, probeBody) {
	t.Helper()
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := probeBody{Checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			body.Status = s
			return err
		case "checks":
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := d.Str()
				body.Checks[name] = s
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return w.Code, body
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func TestLiveness(t *testing.T) {
	tests := []struct {
		name   string
		runs   int
		status int
	}{
		{name: "fresh check is healthy", runs: 0, status: http.StatusOK},
		{name: "below threshold", runs: failureThreshold - 1, status: http.StatusOK},
		{name: "at threshold", runs: failureThreshold, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.Add(Liveness, "db", time.Second, failing("connection refused"))
			for range tt.runs {
				h.checks[0].run(context.Background())
			}

			code, body := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.status, code)
			if tt.status != http.StatusOK {
				assert.Equal(t, "unhealthy", body.Status)
				assert.Equal(t, "connection refused", body.Checks["db"])
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	healthy := false
	h := New()
	h.Add(Liveness, "flaky", time.Second, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})
	c := h.checks[0]
	for range failureThreshold {
		c.run(context.Background())
	}
	require.False(t, c.healthy.Load())

	healthy = true
	c.run(context.Background())
	assert.True(t, c.healthy.Load())
}

func TestReadiness(t *testing.T) {
	h := New()
	h.Add(Readiness, "redis", time.Second, func(context.Context) error { return nil })
	h.Add(Liveness, "broken", time.Second, failing("ignored by readiness"))
	for range failureThreshold {
		h.checks[1].run(context.Background())
	}

	code, body := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")

	h.SetReady(true)
	code, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)
}

func TestStartStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	h := New()
	h.Add(Readiness, "probe", time.Second, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), time.Hour)
	defer h.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("check did not run on start")
	}
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}
