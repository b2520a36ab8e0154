// Package server exposes sessions' monitoring deltas: a catch-up HTTP API and pushed
// deltas, through websocket by default.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astisplitter/pkg/astisplitter"
	"github.com/asticode/go-astisplitter/pkg/monitor/monitorer"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	ctx context.Context
	l   astikit.CompleteLogger
	m   *monitorer.Monitorer
	o   Options
	p   Pusher
	s   *http.Server
}

type Options struct {
	Addr        string
	API         APIOptions
	DeltaPeriod time.Duration
	// Stats that are not related to a session, such as host usage
	DeltaStats []astikit.DeltaStat
	Logger     astikit.StdLogger
	Name       string
	Push       PushOptions
}

type APIOptions struct {
	Headers     map[string]string
	QueryParams map[string]string
	URL         string
}

type PushOptions struct {
	Pusher      Pusher
	QueryParams map[string]string
	URL         string
}

func New(o Options) *Server {
	// Create server
	s := &Server{
		ctx: context.Background(),
		l:   astikit.AdaptStdLogger(o.Logger),
		o:   o,
	}

	// Create monitorer
	s.m = monitorer.New(monitorer.MonitorerOptions{
		DeltaStats: o.DeltaStats,
		OnDelta:    s.onDelta,
		Period:     o.DeltaPeriod,
	})

	// Get pusher
	s.p = o.Push.Pusher
	if s.p == nil {
		s.p = s.newWebsocketPusher()
	}

	// Addr was provided
	// We need the pusher at that point
	if o.Addr != "" {
		s.s = &http.Server{
			Addr:    o.Addr,
			Handler: s.handler(),
		}
	}
	return s
}

// Monitor must be called before the session is opened
func (s *Server) Monitor(ss *astisplitter.Session) {
	s.m.Monitor(ss)
}

func (s *Server) Close() error {
	// Stop monitorer
	s.m.Close()

	// Close pusher
	if v, ok := s.p.(io.Closer); ok {
		if err := v.Close(); err != nil {
			return fmt.Errorf("server: closing pusher failed: %w", err)
		}
	}
	return nil
}

// Serve blocks until ctx is done or the http server fails
func (s *Server) Serve(ctx context.Context) error {
	// Store context
	s.ctx = ctx

	// Create group
	g, gctx := errgroup.WithContext(ctx)

	// Start monitorer
	g.Go(func() error {
		s.m.Start(gctx)
		return nil
	})

	// Start http server
	if s.s != nil {
		g.Go(func() error { return s.serveHTTP(gctx) })
	}
	return g.Wait()
}

func (s *Server) serveHTTP(ctx context.Context) (err error) {
	// Log
	s.l.InfoCf(s.ctx, "server: serving on %s", s.o.Addr)

	// Serve
	done := make(chan error, 1)
	go func() {
		if err := s.s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
		}
	}()

	// Wait
	select {
	case <-ctx.Done():
	case err = <-done:
		err = fmt.Errorf("server: serving on %s failed: %w", s.o.Addr, err)
	}

	// Shutdown
	s.l.InfoCf(s.ctx, "server: shutting down server on %s", s.o.Addr)
	if errS := s.s.Shutdown(context.Background()); errS != nil {
		s.l.WarnC(s.ctx, fmt.Errorf("server: shutting down server on %s failed: %w", s.o.Addr, errS))
	}
	return
}

func (s *Server) handler() http.Handler {
	// Create mux
	m := http.NewServeMux()

	// Add config route
	m.Handle("/config.json", s.ServeConfig())

	// Add api routes
	if strings.HasPrefix(s.o.API.URL, "/") {
		m.Handle(s.o.API.URL+"/catch-up", s.ServeAPICatchUp())
	}

	// Add push route
	if strings.HasPrefix(s.o.Push.URL, "/") {
		m.Handle(s.o.Push.URL, s.ServePush())
	}
	return m
}

type apiCatchUp struct {
	monitorer.Delta
	Server apiCatchUpServer `json:"server"`
}

type apiCatchUpServer struct {
	Name string `json:"name,omitempty"`
}

func (s *Server) catchUp() apiCatchUp {
	return apiCatchUp{
		Delta:  s.m.CatchUp(),
		Server: apiCatchUpServer{Name: s.o.Name},
	}
}

func (s *Server) ServeAPICatchUp() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Write
		if err := json.NewEncoder(w).Encode(s.catchUp()); err != nil {
			s.l.WarnC(s.ctx, fmt.Errorf("server: writing api catch up body failed: %w", err))
			return
		}
	})
}

func (s *Server) ServePush() http.Handler {
	if h, ok := s.p.(http.Handler); ok {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
}

type config struct {
	API  apiConfig  `json:"api"`
	Push pushConfig `json:"push"`
}

type apiConfig struct {
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	URL         string            `json:"url,omitempty"`
}

type pushConfig struct {
	QueryParams map[string]string `json:"query_params,omitempty"`
	URL         string            `json:"url,omitempty"`
}

// ServeConfig tells dashboards where to find the api and the push
func (s *Server) ServeConfig() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode(config{
			API: apiConfig{
				Headers:     s.o.API.Headers,
				QueryParams: s.o.API.QueryParams,
				URL:         s.o.API.URL,
			},
			Push: pushConfig{
				QueryParams: s.o.Push.QueryParams,
				URL:         s.o.Push.URL,
			},
		}); err != nil {
			s.l.WarnC(s.ctx, fmt.Errorf("server: writing config body failed: %w", err))
			return
		}
	})
}

func (s *Server) onDelta(d monitorer.Delta) {
	// Marshal
	b, err := marshalPushEvent(pushEventNameDelta, d)
	if err != nil {
		s.l.WarnC(s.ctx, err)
		return
	}

	// Push
	if _, err := s.p.Write(b); err != nil {
		s.l.WarnC(s.ctx, fmt.Errorf("server: pushing failed: %w", err))
		return
	}
}
