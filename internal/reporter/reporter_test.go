package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReporterPostsEvents(t *testing.T) {
	var got []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("X-Worker-Token") != "tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got = append(got, ev)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL + "/", Token: "tok", Client: srv.Client()}
	ev := Event{Coordinate: "org.acme:core:1.0", Status: StatusBuilt, Outputs: []string{"core-1.0.jar"}, DurationMS: 12}
	require.NoError(t, c.PostEvent(context.Background(), ev))
	require.Equal(t, []Event{ev}, got)

	err := c.PostLog(context.Background(), Log{Coordinate: "x:y:1"})
	require.ErrorContains(t, err, "404")

	c.Token = "wrong"
	require.ErrorContains(t, c.PostEvent(context.Background(), ev), "403")
}

func TestNilReporterDropsEverything(t *testing.T) {
	var c *Client
	require.NoError(t, c.PostEvent(context.Background(), Event{}))
	require.NoError(t, (&Client{}).PostLog(context.Background(), Log{}))
}

func TestPostHeartbeat(t *testing.T) {
	var hb Heartbeat
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/worker/heartbeat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&hb))
	}))
	defer srv.Close()
	c := &Client{BaseURL: srv.URL}
	require.NoError(t, c.PostHeartbeat(context.Background(), Heartbeat{WorkerID: "w1", ActiveBuilds: 2}))
	require.Equal(t, "w1", hb.WorkerID)
	require.Equal(t, 2, hb.ActiveBuilds)
}
