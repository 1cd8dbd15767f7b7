// Package api is the deliberately thin HTTP/WebSocket boundary the
// specification treats as a contract only (spec §6 "API boundary
// (contract only)"): an upload endpoint that hands (file_path, user_id)
// pairs to the ingestion pipeline over an in-process channel, and a
// notification sink that turns a notify.Session into a live WebSocket
// connection. Everything else a real API would need — auth, the full
// REST surface over the Catalog Store, multi-tenant routing — is out
// of scope (spec §1 Non-goals) and not implemented here.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/buulam/clapshot/internal/incoming"
	"github.com/buulam/clapshot/internal/logger"
	"github.com/buulam/clapshot/internal/notify"
)

// Server wires the upload sink and the notification WebSocket onto a
// gin.Engine under urlBase.
type Server struct {
	engine  *gin.Engine
	urlBase string
	uploads chan<- incoming.Event
	bus     *notify.Bus
}

// New builds a Server. uploads is the channel the Ingest Dispatcher
// reads API-submitted files from (spec §4.F); bus is the Notification
// Bus new WebSocket sessions register against.
func New(urlBase string, uploads chan<- incoming.Event, bus *notify.Bus) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{engine: e, urlBase: urlBase, uploads: uploads, bus: bus}

	group := e.Group(urlBase)
	group.GET("/health", s.health)
	group.POST("/upload", s.upload)
	group.GET("/ws", s.serveWS)

	return s
}

// Run starts the HTTP listener and blocks until ctx is cancelled, at
// which point it shuts the server down with a bounded grace period.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	httpSrv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api: listening on %s (base %s)", addr, s.urlBase)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api: shutdown: %v", err)
		}
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
