// Package web serves the skid dashboard: the status page, the pull endpoints
// and the /ws push channel backed by the broadcast hub.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/napd/local-control/internal/hub"
	"github.com/napd/local-control/internal/telemetry"
)

const (
	mimeMsgpack = "application/msgpack"

	writeWait      = 5 * time.Second
	maxMessageSize = 4096
)

// Data is the telemetry the server reads.
type Data interface {
	Snapshot() telemetry.Snapshot
}

// Deps are the collaborators a Server reads from.
type Deps struct {
	Hub       *hub.Hub
	Data      Data
	Selection hub.Selection
	Now       func() time.Time // default time.Now
}

// Server serves the dashboard over HTTP.
type Server struct {
	httpServer *http.Server
	deps       Deps
	upgrader   websocket.Upgrader
}

// New creates a Server listening on addr.
func New(addr string, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard is served from this host but may be opened via any of its names.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/ws"
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.GET("/", s.handleIndex)
	e.GET("/index.html", s.handleIndex)
	e.GET("/api/data", s.handleData)
	e.GET("/api/health", s.handleHealth)
	e.GET("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Push connections are hijacked
// and not tracked by it; they end when the hub closes.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(c echo.Context) error {
	page := indexPage{
		Data:         telemetry.ToJSON(s.deps.Data.Snapshot()),
		SelectedPump: int(s.deps.Selection.Current()),
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return renderHTML(c.Response(), page)
}

func (s *Server) handleData(c echo.Context) error {
	data := telemetry.ToJSON(s.deps.Data.Snapshot())
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), mimeMsgpack) {
		b, err := msgpack.Marshal(data)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to encode msgpack"})
		}
		return c.Blob(http.StatusOK, mimeMsgpack, b)
	}
	return c.JSON(http.StatusOK, data)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthJSON{
		Status:    "healthy",
		Timestamp: telemetry.FormatTime(s.deps.Now()),
	})
}

// handleWS attaches one push subscriber. The writer goroutine owns all writes
// to conn; the handler goroutine reads until the connection fails.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered the request.
		log.Printf("web: websocket upgrade: %v", err)
		return nil
	}

	sub, err := s.deps.Hub.Subscribe()
	if err != nil {
		log.Printf("web: subscribe: %v", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return nil
	}

	done := make(chan struct{})
	go s.writeFrames(conn, sub, done)
	s.readFrames(conn, sub)
	s.deps.Hub.Unsubscribe(sub)
	<-done
	return nil
}

func (s *Server) writeFrames(conn *websocket.Conn, sub *hub.Subscriber, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	for frame := range sub.Messages() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("web: write to %s: %v", sub.ID, err)
			s.deps.Hub.Unsubscribe(sub)
			return
		}
	}
	// Dropped by the hub or the hub is shutting down.
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
}

func (s *Server) readFrames(conn *websocket.Conn, sub *hub.Subscriber) {
	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: read from %s: %v", sub.ID, err)
			}
			return
		}
		if err := s.deps.Hub.Handle(sub, data); err != nil {
			log.Printf("web: message from %s: %v", sub.ID, err)
		}
	}
}
