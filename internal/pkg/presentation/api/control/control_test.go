package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diwise/kg-publisher/internal/pkg/application/publisher"
	"github.com/go-chi/chi/v5"
	"github.com/matryer/is"
)

func TestHealth(t *testing.T) {
	is, ts, _ := setupTest(t)
	defer ts.Close()

	resp, body := testRequest(is, ts, "/health")
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(body, "ok")
}

func TestProgressBeforeAnyRunIsIdle(t *testing.T) {
	is, ts, _ := setupTest(t)
	defer ts.Close()

	resp, body := testRequest(is, ts, "/progress")
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(resp.Header.Get("Content-Type"), "application/json")

	snapshot := publisher.Snapshot{}
	is.NoErr(json.Unmarshal([]byte(body), &snapshot))
	is.Equal(snapshot.State, publisher.StateIdle)
}

func TestProgressDuringRun(t *testing.T) {
	is, ts, progress := setupTest(t)
	defer ts.Close()

	progress.RunStarted("space-1", 4)
	progress.BatchStarted(0, 100)
	progress.BatchSubmitted(0, "0xabc")
	progress.BatchConfirmed(0, 12)
	progress.BatchStarted(1, 100)

	_, body := testRequest(is, ts, "/progress")

	snapshot := publisher.Snapshot{}
	is.NoErr(json.Unmarshal([]byte(body), &snapshot))
	is.Equal(snapshot.State, publisher.StateRunning)
	is.Equal(snapshot.SpaceID, "space-1")
	is.Equal(snapshot.Total, 4)
	is.Equal(snapshot.Confirmed, 1)
	is.Equal(snapshot.Current, 2)
	is.Equal(snapshot.LastTxHash, "0xabc")
	is.Equal(snapshot.LastBlock, uint64(12))
}

func setupTest(t *testing.T) (*is.I, *httptest.Server, *publisher.Progress) {
	is := is.New(t)
	r := chi.NewRouter()
	progress := publisher.NewProgress()

	RegisterHandlers(context.Background(), r, progress)

	return is, httptest.NewServer(r), progress
}

func testRequest(is *is.I, ts *httptest.Server, path string) (*http.Response, string) {
	resp, err := http.Get(ts.URL + path)
	is.NoErr(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	is.NoErr(err)

	return resp, string(body)
}
