// Package server provides the NetGaze Gin-based REST API.
// Routes are split into two groups:
//   - Control plane: JWT-protected dashboard API, chart queries and the live stream.
//   - Data plane: optionally token-protected; receives reporting-agent pushes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vesaa/netgaze/internal/live"
	"github.com/vesaa/netgaze/internal/models"
	"github.com/vesaa/netgaze/internal/monitor"
	"github.com/vesaa/netgaze/internal/probe"
	"github.com/vesaa/netgaze/internal/store"
)

// Store is the persistence the API reads and writes.
type Store interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	CreateTarget(ctx context.Context, t *models.Target) error
	ListTargets(ctx context.Context) ([]models.Target, error)
	GetTarget(ctx context.Context, id uint) (*models.Target, error)
	DeleteTarget(ctx context.Context, id uint) error
	RecentHistory(ctx context.Context, targetID uint, limit int) ([]models.PingHistory, error)
	RecentEvents(ctx context.Context, limit int) ([]models.EventLog, error)
	Ping(ctx context.Context) error
}

// Monitor is the live state the API exposes.
type Monitor interface {
	Latest() ([]monitor.DeviceStatus, *probe.LocalSnapshot)
	Health() []monitor.TaskHealth
	Forget(targetID uint)
	Agents() *monitor.AgentRegistry
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// API holds the collaborators shared by all handlers.
type API struct {
	store        Store
	monitor      Monitor
	hub          *live.Hub
	tokens       *TokenIssuer
	agentToken   string
	historyLimit int
	log          *slog.Logger
}

// Options configure an API.
type Options struct {
	JWTSecret    string
	AgentToken   string
	HistoryLimit int
}

func New(st Store, mon Monitor, hub *live.Hub, opts Options, log *slog.Logger) *API {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = store.DefaultHistoryLimit
	}
	return &API{
		store:        st,
		monitor:      mon,
		hub:          hub,
		tokens:       NewTokenIssuer(opts.JWTSecret),
		agentToken:   opts.AgentToken,
		historyLimit: opts.HistoryLimit,
		log:          log,
	}
}

// RegisterControlRoutes wires up the control-plane API on the given engine.
//
//	Public:   POST /api/login, GET /api/health
//	Protected (JWT): all other /api/* routes
func (a *API) RegisterControlRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", a.handleLogin)
	api.GET("/health", a.handleHealth)

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	auth := api.Group("/", JWTMiddleware(a.tokens))
	{
		auth.GET("/targets", a.handleTargetList)
		auth.POST("/targets", a.handleTargetCreate)
		auth.DELETE("/targets/:id", a.handleTargetDelete)

		auth.GET("/chart/:id", a.handleChart)
		auth.GET("/events", a.handleEvents)

		auth.GET("/status", a.handleStatus)
		auth.GET("/agents", a.handleAgents)
		auth.GET("/stream", a.handleStream)
	}
}

// RegisterDataRoutes wires up the data-plane API on the given engine.
func (a *API) RegisterDataRoutes(r *gin.Engine) {
	api := r.Group("/api", AgentTokenMiddleware(a.agentToken))
	{
		api.POST("/agent/report", a.handleAgentReport)
	}

	// Data-plane health (no auth, used by load-balancers / k8s probes)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin123" }
func (a *API) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	user, err := a.store.Authenticate(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, store.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		a.log.Error("login failed", "user", body.Username, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login unavailable"})
		return
	}

	token, err := a.tokens.Issue(user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"type":       "Bearer",
	})
}

// handleHealth reports database reachability and monitor task liveness.
func (a *API) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	database := "ok"
	if err := a.store.Ping(ctx); err != nil {
		database = err.Error()
		status = "degraded"
	}

	tasks := make(map[string]monitor.TaskHealth)
	for _, h := range a.monitor.Health() {
		tasks[h.Name] = h
		if h.Stale {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"database": database,
		"tasks":    tasks,
		"time":     time.Now().UTC(),
	})
}

func (a *API) handleTargetList(c *gin.Context) {
	targets, err := a.store.ListTargets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": targets})
}

// handleTargetCreate registers a remote device.
//
//	POST /api/targets
//	Body: { "name": "NAS", "address": "192.168.1.10", "probe_port": 445, "icon": "bi-hdd" }
func (a *API) handleTargetCreate(c *gin.Context) {
	var body struct {
		Name      string `json:"name"`
		Address   string `json:"address"`
		ProbePort *int   `json:"probe_port"`
		Icon      string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := &models.Target{Name: body.Name, Address: body.Address, ProbePort: body.ProbePort, Icon: body.Icon}
	if err := a.store.CreateTarget(c.Request.Context(), t); err != nil {
		if errors.Is(err, models.ErrInvalidTarget) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": t})
}

// handleTargetDelete removes a target together with its history.
func (a *API) handleTargetDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := a.store.DeleteTarget(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.monitor.Forget(id)
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleChart returns the latency history of a target, oldest first.
//
//	GET /api/chart/:id → { "labels": ["12:00:01", ...], "values": [12, ...] }
func (a *API) handleChart(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := a.store.GetTarget(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	points, err := a.store.RecentHistory(c.Request.Context(), id, a.historyLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	labels := make([]string, len(points))
	values := make([]int64, len(points))
	for i, p := range points {
		labels[i] = p.Timestamp.Local().Format("15:04:05")
		values[i] = p.LatencyMS
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels, "values": values})
}

// handleEvents returns the newest status transitions.
//
//	GET /api/events?limit=50
func (a *API) handleEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := a.store.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

// handleStatus serves the latest in-memory state. It works without the
// database, so viewers keep live status during a store outage.
func (a *API) handleStatus(c *gin.Context) {
	devices, local := a.monitor.Latest()
	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"local":   local,
		"agents":  a.monitor.Agents().List(),
	})
}

func (a *API) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": a.monitor.Agents().List()})
}

// handleAgentReport accepts a push from a reporting agent (data plane only).
// The source address comes from the connection, never from the payload.
//
//	POST /api/agent/report
//	Body: { "name": "pve-01", "cpu": 12.5, "ram": 40.1 }
func (a *API) handleAgentReport(c *gin.Context) {
	var body struct {
		Name string   `json:"name"`
		CPU  *float64 `json:"cpu"`
		RAM  *float64 `json:"ram"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if body.Name == "" || body.CPU == nil || body.RAM == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "name, cpu and ram are required"})
		return
	}

	a.monitor.Agents().Report(body.Name, *body.CPU, *body.RAM, c.RemoteIP())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
