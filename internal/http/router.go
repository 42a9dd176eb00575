package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/supportdesk/assignment/internal/config"
	"github.com/supportdesk/assignment/internal/http/handlers"
	"github.com/supportdesk/assignment/internal/http/middleware"

	_ "github.com/supportdesk/assignment/docs"
)

func Router(cfg config.Config, store handlers.Store, engine handlers.Engine, rebalancer handlers.Rebalancer, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:          store,
		Engine:         engine,
		Rebalancer:     rebalancer,
		Validator:      validator.New(),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/agents", h.AgentsList)
		api.GET("/tickets/:id/recommendation", h.Recommend)
		api.GET("/tickets/:id/assignments", h.AssignmentHistory)
		api.POST("/tickets", h.TicketCreate)
		api.POST("/tickets/:id/assign", h.Assign)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/agents/import", h.ImportAgents)
		admin.POST("/rebalance", h.Rebalance)
		admin.GET("/runs/latest", h.RunsLatest)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
