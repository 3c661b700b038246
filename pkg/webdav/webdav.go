// Package webdav shares the recordings directory over WebDAV on demand.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"qr-shutter-pi/pkg/utils"
)

// Server is a WebDAV server that can be started and shut down repeatedly.
type Server struct {
	lock   sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	addr   string
	port   int
	dir    string
	logger *zap.SugaredLogger
}

// New returns a stopped server for dir. It shuts down when ctx is done.
func New(ctx context.Context, port int, dir string) *Server {
	return &Server{
		ctx:    ctx,
		port:   port,
		dir:    dir,
		logger: utils.GetLogger().Named("webdav"),
	}
}

// Start serves the directory. It reports false if the server was already running.
func (w *Server) Start() (bool, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel != nil {
		return false, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", w.port))
	if err != nil {
		return false, fmt.Errorf("webdav listen on :%d: %w", w.port, err)
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.cancel = cancel
	w.addr = ln.Addr().String()
	serve(ctx, ln, Handler(w.dir, w.logger), w.logger)
	w.logger.Infof("serving %s on %s", w.dir, w.addr)

	return true, nil
}

// Stop shuts the server down. It reports false if the server was not running.
func (w *Server) Stop() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel == nil {
		return false
	}
	w.cancel()
	w.cancel = nil
	w.addr = ""

	return true
}

func (w *Server) Running() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.cancel != nil
}

// Addr is the listen address of a running server, or "".
func (w *Server) Addr() string {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.addr
}

func Handler(dir string, logger *zap.SugaredLogger) http.Handler {
	return &webdav.Handler{
		FileSystem: webdav.Dir(dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}
}

func serve(ctx context.Context, ln net.Listener, h http.Handler, logger *zap.SugaredLogger) {
	svr := &http.Server{Handler: h}

	go func() {
		if err := svr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("webdav server err: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srcCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svr.Shutdown(srcCtx); err != nil {
			logger.Errorf("shutdown webdav server err: %s", err)
		}
	}()
}
