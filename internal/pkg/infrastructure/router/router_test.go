package router

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/matryer/is"
)

func TestRequestsCarryLoggerAndCORSHeaders(t *testing.T) {
	is := is.New(t)

	r := New("kg-publisher-test", slog.Default())

	hasLogger := false
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hasLogger = logging.GetFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	is.Equal(w.Code, http.StatusOK)
	is.True(hasLogger)
	is.True(w.Header().Get("Access-Control-Allow-Origin") != "")
}

func TestPanicsAreRecovered(t *testing.T) {
	is := is.New(t)

	r := New("kg-publisher-test", slog.Default())
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	is.Equal(w.Code, http.StatusInternalServerError)
}
