package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pulsefit/livestream/internal/streamerr"
)

func TestErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", streamerr.NotFound("session %s", "x"), http.StatusNotFound},
		{"conflict", streamerr.Conflict("slot occupied"), http.StatusConflict},
		{"invalid state", streamerr.InvalidState("not live"), http.StatusUnprocessableEntity},
		{"invalid transition", streamerr.InvalidTransition("ended is terminal"), http.StatusUnprocessableEntity},
		{"capacity", streamerr.CapacityExceeded("full"), http.StatusTooManyRequests},
		{"storage", streamerr.Storage(errors.New("pool closed")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			Error(c, tc.err)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestStorageErrorsHideDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	Error(c, streamerr.Storage(errors.New("dial tcp 10.0.0.5: connection refused")))
	if body := rec.Body.String(); body == "" || rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d body = %q", rec.Code, body)
	}
	if got := rec.Body.String(); got != `{"success":false,"error":"storage unavailable"}` {
		t.Fatalf("body = %s, leaked internal detail", got)
	}
}
