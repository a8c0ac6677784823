package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/terminal-bench/ledgerboard/internal/leaderboard"
	"github.com/terminal-bench/ledgerboard/internal/ledger"
	"github.com/terminal-bench/ledgerboard/internal/submission"
	"github.com/terminal-bench/ledgerboard/internal/verify"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 100
)

// SubmissionRunner runs one submission through the pipeline
type SubmissionRunner interface {
	Submit(ctx context.Context, req submission.Request) (*submission.Result, error)
}

// LeaderboardReader is the read side of the leaderboard store
type LeaderboardReader interface {
	TopN(ctx context.Context, n int) ([]leaderboard.Entry, error)
	All(ctx context.Context) ([]leaderboard.Entry, error)
}

// WSHandler upgrades a request into a feed subscription
type WSHandler interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
}

// Gateway is the HTTP surface of the service
type Gateway struct {
	router         *gin.Engine
	pipeline       SubmissionRunner
	store          LeaderboardReader
	limiter        Limiter
	feed           WSHandler
	allowedOrigins []string
	adminSecret    string
	windowSeconds  int
}

// Config holds gateway configuration
type Config struct {
	AllowedOrigins  []string
	AdminJWTSecret  string
	RateLimitWindow time.Duration
}

// NewGateway creates the HTTP gateway. feed may be nil to disable /ws.
func NewGateway(cfg Config, pipeline SubmissionRunner, store LeaderboardReader, limiter Limiter, feed WSHandler) *Gateway {
	gin.SetMode(gin.ReleaseMode)

	windowSeconds := int(cfg.RateLimitWindow.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	g := &Gateway{
		router:         gin.New(),
		pipeline:       pipeline,
		store:          store,
		limiter:        limiter,
		feed:           feed,
		allowedOrigins: cfg.AllowedOrigins,
		adminSecret:    cfg.AdminJWTSecret,
		windowSeconds:  windowSeconds,
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.recoveryMiddleware())
	g.router.Use(g.correlationMiddleware())
	g.router.Use(g.corsMiddleware())

	g.router.GET("/", g.healthCheck)
	g.router.GET("/healthz", g.healthCheck)

	g.router.POST("/submitScore", g.submitScore)
	g.router.GET("/leaderboard", g.getLeaderboard)

	if g.feed != nil {
		g.router.GET("/ws", g.handleWS)
	}

	// Provenance inspection is only exposed when a secret is configured.
	if g.adminSecret != "" {
		admin := g.router.Group("/admin", g.adminAuthMiddleware())
		admin.GET("/entries", g.adminEntries)
	}
}

// Handler returns the http.Handler for the gateway
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Printf("panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.String(http.StatusInternalServerError, "internal error")
	})
}

func (g *Gateway) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (g *Gateway) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && g.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (g *Gateway) originAllowed(origin string) bool {
	for _, allowed := range g.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type submitRequest struct {
	TxHash  string   `json:"txHash"`
	Address string   `json:"address"`
	Score   *float64 `json:"score"`
}

func (g *Gateway) submitScore(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// A non-numeric score or otherwise malformed body lands here; the
		// pipeline catches absent fields.
		c.String(http.StatusBadRequest, "missing_fields")
		return
	}

	// Rate limit before the pipeline does any work. Keyed by the claimed
	// address when one is present so a single player cannot spread load
	// across IPs; anonymous probes fall back to the network origin.
	key := verify.NormalizeAddress(req.Address)
	if key == "" {
		key = c.ClientIP()
	}
	if g.limiter != nil && !g.limiter.Allow(c.Request.Context(), key) {
		c.Header("Retry-After", strconv.Itoa(g.windowSeconds))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"ok":      false,
			"error":   "rate_limited",
			"message": "too many submissions, retry later",
		})
		return
	}

	res, err := g.pipeline.Submit(c.Request.Context(), submission.Request{
		TxHash:        req.TxHash,
		Address:       req.Address,
		Score:         req.Score,
		IP:            c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: c.GetString("correlation_id"),
	})
	if err != nil {
		g.writeSubmitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"top10": entryViews(res.Top),
	})
}

func (g *Gateway) writeSubmitError(c *gin.Context, err error) {
	var rej *verify.RejectionError
	var unavail *ledger.UnavailableError

	switch {
	case errors.Is(err, submission.ErrMissingFields):
		c.String(http.StatusBadRequest, "missing_fields")
	case errors.As(err, &rej):
		c.String(http.StatusBadRequest, rej.Reason)
	case errors.Is(err, submission.ErrReplay):
		c.String(http.StatusConflict, "tx already used")
	case errors.As(err, &unavail):
		log.Printf("submission failed, ledger unavailable: %v", err)
		c.String(http.StatusInternalServerError, "ledger_unavailable")
	default:
		log.Printf("submission failed: %v", err)
		c.String(http.StatusInternalServerError, "internal error")
	}
}

func (g *Gateway) getLeaderboard(c *gin.Context) {
	limit := defaultLeaderboardLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	top, err := g.store.TopN(c.Request.Context(), limit)
	if err != nil {
		log.Printf("leaderboard read failed: %v", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"top": entryViews(top)})
}

func (g *Gateway) handleWS(c *gin.Context) {
	g.feed.HandleWS(c.Writer, c.Request)
}

func (g *Gateway) adminEntries(c *gin.Context) {
	entries, err := g.store.All(c.Request.Context())
	if err != nil {
		log.Printf("admin entries read failed: %v", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Views

type entryView struct {
	Address   string `json:"address"`
	Score     int64  `json:"score"`
	TxHash    string `json:"txHash"`
	PaidAtISO string `json:"paidAtISO"`
}

func entryViews(entries []leaderboard.Entry) []entryView {
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			Address:   e.Address,
			Score:     e.Score,
			TxHash:    e.TxHash,
			PaidAtISO: e.PaidAt.UTC().Format(time.RFC3339),
		})
	}
	return views
}
