package service

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"grid_bot/internal/models"
	"grid_bot/internal/modules/health"
	healthsvc "grid_bot/internal/modules/health/service"
	"grid_bot/internal/supervisor"
)

// Operator операторские действия супервизора.
type Operator interface {
	Start(ctx context.Context, userID int64) (supervisor.StartResult, error)
	Stop(ctx context.Context, userID int64) (supervisor.ActionResult, error)
	Status(ctx context.Context, userID int64) (supervisor.StatusResult, error)
	AllStatuses(ctx context.Context) (supervisor.AdminStatuses, error)
	Recover(ctx context.Context, userID int64) (supervisor.RecoverResult, error)
	Refresh(ctx context.Context, userID int64, single bool) (supervisor.ActionResult, error)
	ClearRefresh(ctx context.Context, userID int64) (supervisor.ActionResult, error)
	StopRepeat(ctx context.Context, userID int64) (supervisor.ActionResult, error)
}

type TradeLister interface {
	ListTrades(ctx context.Context, userID int64, limit int) ([]models.TradeRecord, error)
}

type Config struct {
	AdminToken  string
	CORSOrigins []string
	StatusPush  time.Duration
	Release     bool
}

type Server struct {
	router *gin.Engine
	ops    Operator
	trades TradeLister
	state  *healthsvc.State
	cfg    Config
	log    *zap.Logger
}

func NewServer(cfg Config, ops Operator, trades TradeLister, state *healthsvc.State, log *zap.Logger) *Server {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.StatusPush <= 0 {
		cfg.StatusPush = 5 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 || (len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		ops:    ops,
		trades: trades,
		state:  state,
		cfg:    cfg,
		log:    log.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	health.Register(s.router, s.state)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api", s.authMiddleware())
	bots := api.Group("/bots/:userID", s.userMiddleware())
	{
		bots.POST("/start", s.handleStart)
		bots.POST("/stop", s.handleStop)
		bots.POST("/recover", s.handleRecover)
		bots.POST("/refresh", s.handleRefresh)
		bots.POST("/clear-refresh", s.handleClearRefresh)
		bots.POST("/stop-repeat", s.handleStopRepeat)
		bots.GET("/status", s.handleStatus)
		bots.GET("/trades", s.handleTrades)
	}
	api.GET("/admin/bots", s.handleAdminStatuses)

	s.router.GET("/ws/status", s.authMiddleware(), s.handleStatusStream)
}

// authMiddleware при заданном admin_token требует Authorization: Bearer <token>.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminToken == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) userMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("userID"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		c.Set("userID", id)
		s.state.TouchAction(time.Now())
		c.Next()
	}
}

func userID(c *gin.Context) int64 { return c.GetInt64("userID") }
