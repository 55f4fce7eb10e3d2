// main.go
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/Kenji11/aivideo-sub002/assets"
	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/config"
	"github.com/Kenji11/aivideo-sub002/internal/platform"
	"github.com/Kenji11/aivideo-sub002/runs"
	"github.com/Kenji11/aivideo-sub002/store"
	"github.com/Kenji11/aivideo-sub002/worker"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Router  *gin.Engine
	Store   *store.Postgres
	Catalog *catalog.Catalog
	Config  config.Config
	Logger  *zap.Logger
}

func NewServer(cfg config.Config, logger *zap.Logger) (*Server, error) {
	db, err := platform.NewDBConnection(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	rdb, err := platform.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(cfg.Pipeline.CatalogPath)
	if err != nil {
		return nil, err
	}
	pg := store.NewPostgres(db, logger)
	if err := pg.Migrate(); err != nil {
		return nil, err
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Add CORS middleware for your frontend
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.Server.FrontendURL)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-User-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		DB:      db,
		Redis:   rdb,
		Router:  router,
		Store:   pg,
		Catalog: cat,
		Config:  cfg,
		Logger:  logger,
	}
	server.setupRoutes()
	return server, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		sqlDB, err := s.DB.DB()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		if err := s.Redis.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected", "redis": "connected"})
	})

	queue := worker.NewProcessor(s.Redis, s.Logger)
	runHandler := runs.NewHandler(s.Store, s.Catalog, queue, s.Logger)
	assetHandler := assets.NewHandler(s.Store, s.Logger)

	catalogRoutes := s.Router.Group("/catalog")
	{
		catalogRoutes.GET("/beats", runHandler.ListBeats)
		catalogRoutes.GET("/archetypes", runHandler.ListArchetypes)
		catalogRoutes.GET("/backends", runHandler.ListBackends)
	}

	protected := s.Router.Group("")
	protected.Use(runs.RequireUser())
	{
		runRoutes := protected.Group("/runs")
		{
			runRoutes.POST("", runHandler.CreateRun)
			runRoutes.GET("/:id", runHandler.GetRun)
			runRoutes.GET("/:id/chunks", runHandler.GetRunChunks)
			runRoutes.POST("/:id/cancel", runHandler.CancelRun)
			runRoutes.POST("/:id/resume", runHandler.ResumeRun)
		}

		assetRoutes := protected.Group("/assets")
		{
			assetRoutes.POST("", assetHandler.CreateAsset)
			assetRoutes.GET("", assetHandler.ListAssets)
		}
	}

	// Rendered media is served from the work dir when no CDN fronts it.
	s.Router.Static("/media", s.Config.Media.WorkDir)
}

func (s *Server) Run() error {
	s.Logger.Info("server starting", zap.String("port", s.Config.Server.Port))
	return s.Router.Run(":" + s.Config.Server.Port)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := platform.NewLogger(cfg)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}
	if err := server.Run(); err != nil {
		logger.Fatal("failed to run server", zap.Error(err))
	}
}
