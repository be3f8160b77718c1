// Package server is lifeline's HTTP front door: a WebSocket per live call for
// the voice front end, and a read API over sessions, transcripts, dispatches
// and responders.
package server

import (
	"context"
	"fmt"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/dispatch"
	"github.com/zulandar/lifeline/internal/ledger"
	"github.com/zulandar/lifeline/internal/logging"
)

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Ledger          *ledger.Ledger
	Recorder        *ledger.Recorder
	Dispatcher      *dispatch.Coordinator
	Logger          logrus.FieldLogger
	Port            int
	MaxMessageBytes int64 // WebSocket frame limit; 0 means 64 KiB
	Out             io.Writer
}

type api struct {
	ledger     *ledger.Ledger
	recorder   *ledger.Recorder
	dispatcher *dispatch.Coordinator
	log        logrus.FieldLogger
	upgrader   websocket.Upgrader
	readLimit  int64

	mu      sync.Mutex
	closing bool
	calls   map[*websocket.Conn]struct{}
	active  sync.WaitGroup
}

func newAPI(opts StartOpts) (*api, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("server: ledger is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("server: recorder is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("server: dispatcher is required")
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	return &api{
		ledger:     opts.Ledger,
		recorder:   opts.Recorder,
		dispatcher: opts.Dispatcher,
		log:        logging.OrDiscard(opts.Logger).WithField("component", "server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		readLimit: opts.MaxMessageBytes,
		calls:     make(map[*websocket.Conn]struct{}),
	}, nil
}

// NewRouter builds the gin router serving every lifeline route.
func NewRouter(opts StartOpts) (http.Handler, error) {
	a, err := newAPI(opts)
	if err != nil {
		return nil, err
	}
	return a.router(), nil
}

func (a *api) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(a.log))
	registerRoutes(router, a)
	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully. Start returns only after every call handler has
// exited, so no call touches the ledger once it returns.
func Start(ctx context.Context, opts StartOpts) error {
	a, err := newAPI(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "lifeline listening on http://localhost:%d\n", opts.Port)
	}
	a.log.WithField("port", opts.Port).Info("server: listening")
	return a.serve(ctx, ln)
}

func (a *api) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(a.closeCalls)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		// Shutdown waits for requests still upgrading; hijacked calls are
		// closed and waited on below.
		if err := srv.Shutdown(context.Background()); err != nil {
			a.log.WithError(err).Warn("server: shutdown")
		}
		<-errCh
	}

	a.closeCalls()
	a.active.Wait()
	a.log.Info("server: all calls ended")
	return serveErr
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("server: request failed")
			return
		}
		entry.Debug("server: request")
	}
}

// beginCall registers a call handler. It reports false once the server is
// shutting down.
func (a *api) beginCall() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.active.Add(1)
	return true
}

// trackCall records conn so closeCalls can reach it. It reports false when
// shutdown has already started.
func (a *api) trackCall(conn *websocket.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.calls[conn] = struct{}{}
	return true
}

func (a *api) untrackCall(conn *websocket.Conn) {
	a.mu.Lock()
	delete(a.calls, conn)
	a.mu.Unlock()
}

// closeCalls sends a going-away close frame to every live call and refuses
// new ones. The read loops then exit and release their conversations.
func (a *api) closeCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closing = true
	for conn := range a.calls {
		goingAway(conn)
	}
}

func goingAway(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}
