package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/api/handler"
	"github.com/timmy/catalogsync/internal/api/middleware"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
)

// Services are the components the HTTP API exposes. Reports may be nil.
type Services struct {
	Sync        handler.SyncService
	Duplicates  handler.DuplicateService
	Reports     handler.ReportStore
	Validator   handler.ProductValidator
	Collections handler.CollectionService
	Datasources handler.DatasourceService
	Health      []handler.HealthCheck

	// Defaults applied to collection create requests.
	DefaultDistance domain.DistanceMetric
	DefaultHNSW     domain.HNSWParams
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, mode string, cors middleware.CORSConfig, log *logger.Logger) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler(svc.Health...)
	syncHandler := handler.NewSyncHandler(svc.Sync)
	duplicateHandler := handler.NewDuplicateHandler(svc.Duplicates, svc.Reports)
	productHandler := handler.NewProductHandler(svc.Validator)
	collectionHandler := handler.NewCollectionHandler(svc.Collections, svc.DefaultDistance, svc.DefaultHNSW)
	datasourceHandler := handler.NewDatasourceHandler(svc.Datasources)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Sync jobs
		v1.POST("/sync/trigger", syncHandler.Trigger)
		v1.POST("/sync/webhook", syncHandler.Webhook)
		v1.GET("/sync/jobs", syncHandler.ListJobs)
		v1.GET("/sync/jobs/:id", syncHandler.GetJob)
		v1.POST("/sync/jobs/:id/cancel", syncHandler.CancelJob)
		v1.GET("/sync/jobs/:id/errors", syncHandler.JobErrors)

		// Duplicates
		v1.POST("/duplicates/detect", duplicateHandler.Detect)
		v1.GET("/duplicates/reports/:collection/:name", duplicateHandler.GetReport)

		// Products
		v1.POST("/products/validate", productHandler.Validate)

		// Collections
		v1.GET("/collections", collectionHandler.List)
		v1.POST("/collections", collectionHandler.Create)
		v1.GET("/collections/:name", collectionHandler.Get)
		v1.DELETE("/collections/:name", collectionHandler.Delete)
		v1.POST("/collections/:name/refresh", collectionHandler.Refresh)

		// Datasources
		v1.GET("/datasources", datasourceHandler.List)
		v1.POST("/datasources", datasourceHandler.Create)
		v1.GET("/datasources/:id", datasourceHandler.Get)
		v1.DELETE("/datasources/:id", datasourceHandler.Delete)
	}

	return r
}
