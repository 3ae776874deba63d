package waveviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type testServer struct {
	baseURL string
	canvas  *Canvas
	events  *EventBroadcaster
	stop    context.CancelFunc
}

func startTestServer(t *testing.T, options ViewerOptions) *testServer {
	t.Helper()

	canvas := NewCanvas(options.Colors)
	events := NewEventBroadcaster(options.EventBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	events.Start(ctx, nil)

	// Use NewHttpServer to get the same handler registration as production,
	// but serve through httptest to avoid binding a fixed port.
	s := NewHttpServer(events, canvas, NewChartRenderer(options), options)
	srv := httptest.NewServer(s.mux)

	t.Cleanup(func() {
		cancel()
		events.Wait()
		srv.Close()
	})

	return &testServer{baseURL: srv.URL, canvas: canvas, events: events, stop: cancel}
}

// apply mutates the canvas and publishes the event like the renderer does.
func (s *testServer) apply(t *testing.T, cmd Command) {
	t.Helper()
	event, err := s.canvas.Apply(cmd)
	if err != nil {
		t.Fatalf("Apply(%v) error = %v", cmd, err)
	}
	s.events.Publish(event)
}

func getJSON(t *testing.T, u string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("GET %s failed: %v", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: unexpected status %d", u, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("GET %s: unexpected Content-Type %q", u, ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s: failed to decode body: %v", u, err)
	}
	return resp
}

// dialWebSocket opens a websocket connection to the /ws endpoint for tests.
func dialWebSocket(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse baseURL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readEvent(c *websocket.Conn, timeout time.Duration) (Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var e Event
	err := wsjson.Read(ctx, c, &e)
	return e, err
}

func TestHTTPServer_Metadata(t *testing.T) {
	options := DefaultViewerOptions()
	options.Title = "test title"
	options.XLabel = "x"
	s := startTestServer(t, options)

	var got ViewerOptions
	resp := getJSON(t, s.baseURL+"/metadata", &got)

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected Access-Control-Allow-Origin: %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Fatalf("unexpected Access-Control-Allow-Headers: %q", got)
	}

	if !reflect.DeepEqual(got, options) {
		t.Fatalf("metadata mismatch:\nwant: %+v\ngot:  %+v", options, got)
	}
}

func TestHTTPServer_Lines(t *testing.T) {
	s := startTestServer(t, DefaultViewerOptions())

	t.Run("Empty", func(t *testing.T) {
		var got LinesResponse
		getJSON(t, s.baseURL+"/lines", &got)
		if len(got.Lines) != 0 || got.Viewport != DefaultViewport {
			t.Fatalf("unexpected empty response: %+v", got)
		}
	})

	t.Run("AfterCommands", func(t *testing.T) {
		s.apply(t, AddLineCommand(Line{Name: "a", T: []float64{0, 1}, Ys: [][]float64{{0, 1}, {1, 2}}}))
		s.apply(t, AddLineCommand(Line{Name: "b", T: []float64{2, 3}, Ys: [][]float64{{5, 5}}, Offset: 1}))
		s.apply(t, AutoscaleCommand())

		var got LinesResponse
		getJSON(t, s.baseURL+"/lines", &got)

		names := Map(got.Lines, func(l DrawnLine) string { return l.Name })
		if !reflect.DeepEqual(names, []string{"a", "b"}) {
			t.Fatalf("names = %v, want [a b]", names)
		}
		if len(got.Lines[0].Traces) != 2 {
			t.Fatalf("line a has %d traces, want 2", len(got.Lines[0].Traces))
		}
		want := Viewport{T: Range{Min: 0, Max: 3}, Y: Range{Min: 0, Max: 6}}
		if got.Viewport != want {
			t.Fatalf("viewport = %+v, want %+v", got.Viewport, want)
		}
	})
}

func TestHTTPServer_Snapshot(t *testing.T) {
	s := startTestServer(t, DefaultViewerOptions())
	s.apply(t, AddLineCommand(sinLine(100)))
	s.apply(t, AutoscaleCommand())

	t.Run("RequestedSize", func(t *testing.T) {
		resp, err := http.Get(s.baseURL + "/snapshot.png?width=300&height=200")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
			t.Fatalf("unexpected Content-Type %q", ct)
		}

		img, err := png.Decode(resp.Body)
		if err != nil {
			t.Fatalf("body is not a PNG: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
			t.Fatalf("image size = %dx%d, want 300x200", b.Dx(), b.Dy())
		}
	})

	t.Run("BadSize", func(t *testing.T) {
		for _, q := range []string{"width=0", "height=abc", fmt.Sprintf("width=%d", maxSnapshotSide+1)} {
			resp, err := http.Get(s.baseURL + "/snapshot.png?" + q)
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("%s: status = %d, want 400", q, resp.StatusCode)
			}
		}
	})
}

func TestHTTPServer_WebSocket(t *testing.T) {
	t.Run("ReplayThenLiveThenEnd", func(t *testing.T) {
		s := startTestServer(t, DefaultViewerOptions())
		s.apply(t, AddLineCommand(Line{Name: "old", T: []float64{0}, Ys: [][]float64{{0}}}))

		// Wait for the broadcaster to retain the event before connecting.
		deadline := time.Now().Add(time.Second)
		for {
			replay := make(chan Event, 10)
			s.events.RegisterChannel(context.Background(), replay)
			_, ok := recvEvent(replay, 10*time.Millisecond)
			s.events.DeregisterChannel(context.Background(), replay)
			if ok {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("event was never retained")
			}
		}

		c := dialWebSocket(t, s.baseURL)

		e, err := readEvent(c, time.Second)
		if err != nil {
			t.Fatalf("failed to read replayed event: %v", err)
		}
		if e.Type != CommandAddLine || e.Name != "old" || !reflect.DeepEqual(e.T, []float64{0}) {
			t.Fatalf("unexpected replayed event: %+v", e)
		}

		s.apply(t, RemoveLineCommand("old"))
		e, err = readEvent(c, time.Second)
		if err != nil {
			t.Fatalf("failed to read live event: %v", err)
		}
		if e.Type != CommandRemoveLine || e.Lines != 0 {
			t.Fatalf("unexpected live event: %+v", e)
		}

		s.stop()
		e, err = readEvent(c, time.Second)
		if err != nil {
			t.Fatalf("failed to read end event: %v", err)
		}
		if !e.StreamEnded {
			t.Fatalf("expected end event, got %+v", e)
		}

		if _, err := readEvent(c, time.Second); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			t.Fatalf("expected normal closure after end event, got %v", err)
		}
	})
}
