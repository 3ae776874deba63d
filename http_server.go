package waveviewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	maxSnapshotSide = 4096
	shutdownTimeout = 2 * time.Second
)

// HttpServer lets other programs observe the renderer: a websocket stream
// of canvas events, the current lines and a rendered snapshot.
type HttpServer struct {
	events  *EventBroadcaster
	canvas  *Canvas
	chart   *ChartRenderer
	options ViewerOptions

	mux      *http.ServeMux
	listener net.Listener
	logger   logrus.FieldLogger
}

// LinesResponse is the body of GET /lines.
type LinesResponse struct {
	Lines    []DrawnLine `json:"lines"`
	Viewport Viewport    `json:"viewport"`
}

func NewHttpServer(events *EventBroadcaster, canvas *Canvas, chart *ChartRenderer, options ViewerOptions) *HttpServer {
	s := &HttpServer{
		events:  events,
		canvas:  canvas,
		chart:   chart,
		options: options,
		mux:     http.NewServeMux(),
		logger:  logrus.WithField("tag", "HttpServer"),
	}

	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/metadata", s.handleMetadata)
	s.mux.HandleFunc("/lines", s.handleLines)
	s.mux.HandleFunc("/snapshot.png", s.handleSnapshot)

	return s
}

// Listen binds the configured address. Port 0 picks a free port; see Addr.
func (s *HttpServer) Listen() error {
	listener, err := net.Listen("tcp", s.options.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.HTTPAddr, err)
	}

	s.listener = listener
	return nil
}

// Addr is the bound address, valid after Listen.
func (s *HttpServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve handles requests until ctx is canceled.
func (s *HttpServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("Serve called before Listen")
	}

	server := &http.Server{
		Handler:     s.mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Infof("serving observers at http://%s", s.Addr())
	err := server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "content-type")
	w.Header().Set("Access-Control-Allow-Methods", "*")
}

func (s *HttpServer) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to accept new websocket connection")
		return
	}

	ctx := req.Context()
	ctx = c.CloseRead(ctx) // Observers only listen.

	channel := make(chan Event, s.options.EventBufferSize)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case event, ok := <-channel:
				if !ok {
					// The broadcaster dropped us for falling behind.
					s.logger.Warn("observer fell behind, closing websocket")
					c.Close(websocket.StatusPolicyViolation, "observer too slow")
					return
				}

				err := wsjson.Write(ctx, c, event)
				if err != nil {
					// At this point the websocket closed, so we don't even need to send anything
					s.logger.WithError(err).Warn("websocket write failed and closed")
					return
				}

				if event.StreamEnded {
					c.Close(websocket.StatusNormalClosure, "renderer stopped")
					return
				}
			case <-ctx.Done():
				s.logger.Info("client closed connection or context canceled")
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	// The channel is already being received from in another goroutine and we
	// register the channel here.
	s.events.RegisterChannel(ctx, channel)

	// Once the websocket writing goroutine finishes, we want to deregister
	// the channel from the broadcaster. Whatever is still buffered is left
	// for the garbage collector; the broadcaster never waits on it.
	wg.Wait()
	s.events.DeregisterChannel(ctx, channel)
}

func (s *HttpServer) writeJSON(w http.ResponseWriter, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("failed to write JSON response")
	}
}

func (s *HttpServer) handleMetadata(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, s.options)
}

func (s *HttpServer) handleLines(w http.ResponseWriter, req *http.Request) {
	snapshot := s.canvas.Snapshot()
	s.writeJSON(w, LinesResponse{Lines: snapshot.Lines, Viewport: snapshot.Viewport})
}

// GET /snapshot.png?width=W&height=H renders the canvas as it is now.
func (s *HttpServer) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	setCORSHeaders(w)

	width, err := sizeParam(req, "width", s.options.Width)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	height, err := sizeParam(req, "height", s.options.Height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := s.chart.RenderPNG(w, s.canvas.Snapshot(), width, height); err != nil {
		s.logger.WithError(err).Error("failed to render snapshot")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func sizeParam(req *http.Request, name string, fallback int) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > maxSnapshotSide {
		return 0, fmt.Errorf("%s must be an integer in [1, %d], got %q", name, maxSnapshotSide, raw)
	}
	return v, nil
}
