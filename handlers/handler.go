package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/middlewares"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/queries"
	"github.com/mmdatafocus/eventchain/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handler is the HTTP surface of the engine.
type Handler struct {
	Engine  *workflow.Engine
	Queries *queries.Service
	Logger  *logrus.Logger

	// Locker, when set, serializes push deliveries per document. It may return nil
	// while Redis is unavailable; idempotency keys and row locks keep delivery correct.
	Locker func() *redislock.Client
}

func NewHandler(engine *workflow.Engine, q *queries.Service, logger *logrus.Logger) *Handler {
	return &Handler{Engine: engine, Queries: q, Logger: logger}
}

// Register mounts every route on r. Routes under the profile guard need
// X-Business-Profile-Id; SessionMiddleware and LoaderMiddleware must run before them.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/pubsub/document-events", h.documentEventsPushHandler())

	api := r.Group("/", middlewares.RequireBusinessProfile())
	api.POST("/chains", h.createChain)
	api.GET("/chains", h.listChains)
	api.GET("/chains/export", h.exportChains)
	api.GET("/chains/:id", h.getChainDetail)
	api.GET("/chains/:id/timeline", h.getChainTimeline)
	api.POST("/chains/:id/transitions", h.transitionState)
	api.POST("/chains/:id/reopen", h.reopenChain)
	api.POST("/chains/:id/verify", h.verifyChain)
	api.POST("/chains/:id/amount", h.updateChainAmount)
	api.POST("/chains/:id/recompute", h.recomputeCompliance)
	api.GET("/chains/:id/objects", h.getChainObjects)
	api.POST("/chains/:id/objects", h.addObjectToChain)
	api.GET("/chains/:id/links", h.getChainLinks)
	api.POST("/chains/:id/links", h.linkChains)
	api.GET("/documents/:type/:id/versions", h.getVersions)
	api.POST("/documents/:type/:id/versions", h.createVersion)
	api.GET("/documents/:type/:id/versions/latest", h.getLatestVersion)
	api.GET("/documents/:type/:id/versions/:no", h.getVersion)
	api.POST("/events", h.recordEvent)
}

// NewRouter builds the gin engine with the request middlewares in front of the routes.
// Chain detail counterparts are resolved through the per-request chain loader.
func NewRouter(h *Handler) *gin.Engine {
	if h.Queries != nil && h.Queries.LoadChains == nil {
		h.Queries.LoadChains = middlewares.GetChains
	}
	r := gin.New()
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(h.Logger))
	r.Use(gin.Recovery())
	h.Register(r)
	r.NoRoute(customNotFoundHandler)
	return r
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && logger != nil {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": "route not found"})
}

// StatusFor maps an engine error kind to its HTTP status.
func StatusFor(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindValidation:
		return http.StatusBadRequest
	case models.ErrKindCrossTenantAccess:
		return http.StatusForbidden
	case models.ErrKindInvalidTransition, models.ErrKindDuplicatePrimaryObject, models.ErrKindConcurrencyConflict:
		return http.StatusConflict
	case models.ErrKindOverSettlement:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(c *gin.Context, funcName string, err error) {
	var ee *models.EngineError
	if !errors.As(err, &ee) {
		config.LogError(h.Logger, "handlers", funcName, c.Request.Method+" "+c.FullPath(), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "internal error"})
		return
	}
	body := gin.H{"error": ee.Kind, "message": ee.Error()}
	if ee.ChainId != "" {
		body["chain_id"] = ee.ChainId
	}
	if len(ee.Fields) > 0 {
		body["fields"] = ee.Fields
	}
	c.JSON(StatusFor(ee.Kind), body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrKindValidation, "message": "invalid request: " + err.Error()})
}

func documentRef(c *gin.Context) (models.ObjectType, string, bool) {
	docType := models.ObjectType(c.Param("type"))
	if !docType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   models.ErrKindValidation,
			"message": "unknown document type " + strconv.Quote(string(docType)),
			"fields":  map[string]string{"document_type": "oneof"},
		})
		return "", "", false
	}
	return docType, c.Param("id"), true
}
