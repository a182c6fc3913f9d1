// Package bridge exposes a live agent Session over HTTP.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danmuck/agentctl/internal/agent"
	"github.com/danmuck/agentctl/internal/auth"
	"github.com/danmuck/agentctl/internal/config"
	"github.com/danmuck/agentctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

const version = "0.1.0"

// maxBodyBytes caps request bodies well under the agent payload limit.
const maxBodyBytes = 64 << 10

type Server struct {
	Addr     string
	Appeared time.Time

	session *agent.Session
	timeout time.Duration
	ready   atomic.Bool
	router  *gin.Engine
	auth    auth.Validator
	log     zerolog.Logger
}

// IdentityInfo is the JSON form of one agent identity.
type IdentityInfo struct {
	Type          string `json:"type"`
	Fingerprint   string `json:"fingerprint"`
	Comment       string `json:"comment"`
	AuthorizedKey string `json:"authorized_key,omitempty"`
}

type passphraseRequest struct {
	Passphrase string `json:"passphrase" binding:"required"`
}

// New builds the router and registers every route. timeout bounds each
// agent request made on behalf of an HTTP request.
func New(session *agent.Session, cfg config.BridgeConfig, timeout time.Duration) *Server {
	observability.RegisterMetrics()
	logger := observability.Component("bridge")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.BridgeAccess(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     cfg.Addr,
		Appeared: time.Now(),
		session:  session,
		timeout:  timeout,
		router:   r,
		log:      logger,
	}
	if cfg.Token != "" {
		s.auth = auth.StaticToken{Token: cfg.Token}
	}
	s.registerRoutes()
	return s
}

// SetReady reports whether the engine behind the session is running.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.Addr).Msg("bridge listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
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

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": "agentctl",
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		ready := s.ready.Load()
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Appeared).String(),
			"service": "agentctl",
			"version": version,
		})
	})

	agentRoutes := s.router.Group("/")
	if s.auth != nil {
		agentRoutes.Use(s.requireToken())
	}

	agentRoutes.GET("/identities", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()
		ids, err := s.session.List(ctx)
		if err != nil {
			s.fail(c, "list", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"identities": describeIdentities(ids)})
	})

	agentRoutes.POST("/lock", s.passphraseHandler("lock", s.session.Lock))
	agentRoutes.POST("/unlock", s.passphraseHandler("unlock", s.session.Unlock))
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.CheckHeader(s.auth, c.GetHeader("Authorization")); err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) passphraseHandler(action string, call func(context.Context, []byte) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		var req passphraseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "passphrase is required"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()
		if err := call(ctx, []byte(req.Passphrase)); err != nil {
			s.fail(c, action, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "action": action})
	}
}

func (s *Server) fail(c *gin.Context, action string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, agent.ErrAgentFailure):
		status = http.StatusConflict
	case errors.Is(err, agent.ErrRequestTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, agent.ErrSessionClosed), errors.Is(err, agent.ErrEngineStopped):
		status = http.StatusServiceUnavailable
	}
	s.log.Warn().Str("action", action).Int("status", status).Err(err).Msg("agent request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func describeIdentities(ids []agent.Identity) []IdentityInfo {
	out := make([]IdentityInfo, 0, len(ids))
	for _, id := range ids {
		info := IdentityInfo{Type: "unknown", Comment: id.Comment}
		if pub, err := id.PublicKey(); err == nil {
			info.Type = pub.Type()
			info.Fingerprint = ssh.FingerprintSHA256(pub)
		}
		if line, err := id.AuthorizedKey(); err == nil {
			info.AuthorizedKey = line
		}
		out = append(out, info)
	}
	return out
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
