// Package server is the admin HTTP surface of a protoreg node: health,
// metrics, registry inspection and a JSON-RPC endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/protoreg/internal/discovery"
	"github.com/danmuck/protoreg/internal/observability"
	"github.com/danmuck/protoreg/internal/protocol"
	"github.com/danmuck/protoreg/internal/protocol/registration"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	Version     = "0.1.0"
	ContentCBOR = "application/cbor"
)

type Server struct {
	Node      string
	Addr      string
	Appeared  time.Time
	Registry  *protocol.Registry
	Discovery *discovery.Manager

	router *gin.Engine
}

// New builds the router with logging, metrics and CORS middleware. disc may
// be nil when the node runs without a network config.
func New(node, addr string, corsOrigins []string, reg *protocol.Registry, disc *discovery.Manager) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", observability.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = trustProxies(r, loopbackProxies)

	return &Server{
		Node:      node,
		Addr:      addr,
		Appeared:  time.Now(),
		Registry:  reg,
		Discovery: disc,
		router:    r,
	}
}

var loopbackProxies = []string{"127.0.0.1", "::1"}

// trustProxies installs the proxy allow list and logs a rejected one.
func trustProxies(r *gin.Engine, proxies []string) error {
	if err := r.SetTrustedProxies(proxies); err != nil {
		log.Warn().Err(err).Strs("proxies", proxies).Msg("trusted proxies rejected")
		return err
	}
	return nil
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.Node,
			"version": Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		ready := s.Registry.Initialized()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":       ready,
			"uptime":      time.Since(s.Appeared).String(),
			"service":     s.Node,
			"fingerprint": s.Registry.Fingerprint(),
		})
	})

	r.GET("/modules", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"modules": s.ListModules()})
	})

	r.GET("/modules/:name", func(c *gin.Context) {
		mod, ok := s.Registry.ModuleByModuleName(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "module not found"})
			return
		}
		c.JSON(http.StatusOK, s.moduleInfo(mod))
	})

	r.GET("/protocols", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"protocols": registration.Describe(s.Registry.Protocols())})
	})

	r.GET("/protocols/:id", func(c *gin.Context) {
		desc, err := s.LookupProtocol(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, desc)
	})

	r.GET("/fingerprint", func(c *gin.Context) {
		if strings.Contains(c.GetHeader("Accept"), ContentCBOR) {
			data, err := registration.MarshalDescriptors(registration.Describe(s.Registry.Protocols()))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Header("X-Protoreg-Fingerprint", s.Registry.Fingerprint())
			c.Data(http.StatusOK, ContentCBOR, data)
			return
		}
		c.JSON(http.StatusOK, gin.H{"fingerprint": s.Registry.Fingerprint()})
	})

	r.GET("/providers/:consumer", func(c *gin.Context) {
		providers, err := s.Resolve(c.Request.Context(), c.Param("consumer"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, discovery.ErrUnknownConsumer) || errors.Is(err, discovery.ErrNotInitialized) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"providers": providers})
	})

	r.POST("/rpc", gin.WrapH(newRPCServer(s)))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{Addr: s.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("node", s.Node).Str("addr", s.Addr).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type ModuleInfo struct {
	ID        int8     `json:"id"`
	Name      string   `json:"name"`
	Protocols []string `json:"protocols"`
}

func (s *Server) ListModules() []ModuleInfo {
	mods := s.Registry.Modules()
	out := make([]ModuleInfo, 0, len(mods))
	for _, m := range mods {
		out = append(out, s.moduleInfo(m))
	}
	return out
}

func (s *Server) moduleInfo(m *registration.Module) ModuleInfo {
	info := ModuleInfo{ID: m.ID, Name: m.Name, Protocols: []string{}}
	for _, p := range s.Registry.Protocols() {
		if p.Module() == m.ID {
			info.Protocols = append(info.Protocols, p.Name())
		}
	}
	return info
}

var ErrProtocolNotFound = errors.New("protocol not found")

// LookupProtocol accepts a numeric protocol id or a protocol name.
func (s *Server) LookupProtocol(key string) (registration.Descriptor, error) {
	id, err := strconv.ParseInt(key, 10, 16)
	if err != nil {
		named, lookupErr := s.Registry.ProtocolID(key)
		if lookupErr != nil {
			return registration.Descriptor{}, ErrProtocolNotFound
		}
		id = int64(named)
	}
	entry := s.Registry.GetProtocol(int16(id))
	if entry == nil {
		return registration.Descriptor{}, ErrProtocolNotFound
	}
	return registration.Describe([]*registration.Registration{entry})[0], nil
}

func (s *Server) Resolve(ctx context.Context, consumer string) ([]discovery.Provider, error) {
	if s.Discovery == nil {
		return nil, discovery.ErrNotInitialized
	}
	return s.Discovery.Resolve(ctx, consumer)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
