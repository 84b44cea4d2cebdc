// Package preview serves a live view of the recording on a local port and
// takes overlay gestures and recording controls back over a WebSocket.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dchest/uniuri"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/grabscreen/grabscreen/internal/overlay"
)

// Controller receives recording commands from the preview page.
type Controller interface {
	Pause() error
	Resume() error
	Stop() error
}

const mjpegBoundary = "grabscreenframe"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Only local pages may steer the overlay.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := u.Hostname()
		ip := net.ParseIP(host)
		return host == "localhost" || (ip != nil && ip.IsLoopback())
	},
}

// Server is the preview HTTP server.
type Server struct {
	layout  *overlay.Layout
	frames  *Broadcaster
	control Controller
	logger  *slog.Logger

	router *mux.Router
	http   *http.Server
}

// NewServer wires the routes. control may be nil, in which case recording
// commands are rejected.
func NewServer(layout *overlay.Layout, frames *Broadcaster, control Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		layout:  layout,
		frames:  frames,
		control: control,
		logger:  logger.With("component", "preview"),
		router:  mux.NewRouter(),
	}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers the preview routes with the given router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", s.handleIndex).Methods("GET")
	router.HandleFunc("/stream", s.handleStream).Methods("GET")
	router.HandleFunc("/frame.jpg", s.handleFrame).Methods("GET")
	router.HandleFunc("/layout", s.handleLayout).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.logger.Info("Preview server listening", "url", fmt.Sprintf("http://%s/", ln.Addr()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.frames.Close()
		_ = s.http.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

// handleStream serves multipart MJPEG until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	id := uniuri.NewLen(8) + "_stream"
	frames := s.frames.Subscribe(id, 4)
	defer s.frames.Unsubscribe(id)
	s.logger.Debug("Preview stream started", "subscriber", id, "remote", r.RemoteAddr)

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(data)); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data := s.frames.Latest()
	if data == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.layoutMessage())
}

// Message is one WebSocket message in either direction. Coordinates are
// container pixels.
type Message struct {
	Type    string  `json:"type"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Width   float64 `json:"width,omitempty"`
	Height  float64 `json:"height,omitempty"`
	Visible *bool   `json:"visible,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func (s *Server) layoutMessage() Message {
	r := s.layout.Rect()
	visible := s.layout.Visible()
	return Message{Type: "layout", X: r.X, Y: r.Y, Width: r.W, Height: r.H, Visible: &visible}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade WebSocket", "error", err)
		return
	}
	defer conn.Close()
	s.logger.Debug("Control connection established", "remote", r.RemoteAddr)

	// A dropped connection must not leave a gesture half-done.
	defer s.layout.EndGesture()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var reply Message
		if err := s.apply(msg); err != nil {
			reply = Message{Type: "error", Error: err.Error()}
		} else {
			if msg.Type != "container" && msg.Type != "move" && msg.Type != "layout" {
				s.logger.Debug("Control message applied", "type", msg.Type)
			}
			reply = s.layoutMessage()
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

// apply performs one control message.
func (s *Server) apply(msg Message) error {
	p := overlay.Point{X: msg.X, Y: msg.Y}
	switch msg.Type {
	case "layout":
		return nil
	case "container":
		s.layout.SetContainer(msg.Width, msg.Height)
		return nil
	case "drag":
		return s.layout.BeginDrag(p)
	case "resize":
		return s.layout.BeginResize(p)
	case "move":
		return s.layout.Move(p)
	case "end":
		s.layout.EndGesture()
		return nil
	case "toggle":
		s.layout.Toggle()
		return nil
	case "pause", "resume", "stop":
		if s.control == nil {
			return errors.New("no recording to control")
		}
		switch msg.Type {
		case "pause":
			return s.control.Pause()
		case "resume":
			return s.control.Resume()
		default:
			return s.control.Stop()
		}
	default:
		return errors.Errorf("unknown message type %q", msg.Type)
	}
}
