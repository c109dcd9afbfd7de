package httpapi

import (
	"context"
	"net/http"

	appAlert "smartstock-alerts/internal/application/alert"
	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AlertService 為警報管理操作。
type AlertService interface {
	Create(ctx context.Context, def alertDomain.Definition) (alertDomain.Alert, error)
	Get(ctx context.Context, id string) (alertDomain.Alert, error)
	List(ctx context.Context, filter alertDomain.ListFilter) ([]alertDomain.Alert, error)
	Cancel(ctx context.Context, id string) (bool, error)
	DeleteAll(ctx context.Context) (int64, error)
	Outcomes(ctx context.Context, id string, limit int) ([]alertDomain.Outcome, error)
}

// PassScheduler 為排程器的管理介面。
type PassScheduler interface {
	TriggerNow(ctx context.Context) (appAlert.PassReport, error)
	History() []appAlert.PassReport
	Status() appAlert.SchedulerStatus
}

// CachePurger 清除行情快取。
type CachePurger interface {
	Purge() int
}

// Pinger 檢查 store 連線。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 為 Server 的依賴，Cache 可為 nil。
type Deps struct {
	Alerts    AlertService
	Scheduler PassScheduler
	Cache     CachePurger
	Store     Pinger
	StoreKind string
	Provider  string
	Notifiers []string
	Logger    *zap.Logger
}

// Server 封裝 HTTP 路由與依賴。
type Server struct {
	engine    *gin.Engine
	alerts    AlertService
	scheduler PassScheduler
	cache     CachePurger
	store     Pinger
	storeKind string
	provider  string
	notifiers []string
	logger    *zap.Logger
}

// NewServer 建立 API 伺服器。
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		alerts:    deps.Alerts,
		scheduler: deps.Scheduler,
		cache:     deps.Cache,
		store:     deps.Store,
		storeKind: deps.StoreKind,
		provider:  deps.Provider,
		notifiers: deps.Notifiers,
		logger:    logger.Named("http"),
	}
	s.engine.Use(gin.Recovery(), s.ginLogger(), corsMiddleware())
	s.registerRoutes()
	return s
}

// Handler 回傳路由處理器，供 HTTP server 掛載。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.GET("/ping", s.handlePing)
	api.GET("/health", s.handleHealth)

	alerts := api.Group("/alerts")
	alerts.POST("", s.handleCreateAlert)
	alerts.GET("", s.handleListAlerts)
	alerts.GET("/:id", s.handleGetAlert)
	alerts.DELETE("/:id", s.handleCancelAlert)
	alerts.GET("/:id/outcomes", s.handleAlertOutcomes)

	admin := api.Group("/admin")
	admin.DELETE("/alerts", s.handleDeleteAllAlerts)
	admin.POST("/passes", s.handleRunPass)
	admin.GET("/passes", s.handleListPasses)
	admin.GET("/scheduler", s.handleSchedulerStatus)
	admin.POST("/cache/purge", s.handlePurgeCache)

	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, errCodeNotFound, "route not found")
	})
}
