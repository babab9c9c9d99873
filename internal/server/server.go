package server

import (
	"github.com/gin-gonic/gin"

	"gamevault/internal/importer"
	"gamevault/internal/ingest"
	"gamevault/internal/library"
	"gamevault/internal/models"
	"gamevault/internal/storage"
)

type Server struct {
	cfg    *models.Config
	router *gin.Engine
	db     *storage.Storage
	lib    *library.Library
	worker *ingest.Worker
	engine *importer.Engine

	newScraper importer.ScraperFactory
	uploads    *uploadTracker
}

func NewServer(cfg *models.Config, db *storage.Storage, lib *library.Library, worker *ingest.Worker, engine *importer.Engine, factory importer.ScraperFactory) *Server {
	r := gin.Default()
	r.Static("/files", cfg.LibraryDir)

	s := &Server{
		cfg:        cfg,
		router:     r,
		db:         db,
		lib:        lib,
		worker:     worker,
		engine:     engine,
		newScraper: factory,
		uploads:    newUploadTracker(),
	}

	api := r.Group("/api", s.requireAuth())
	{
		api.POST("/steam/validate", s.handleSteamValidate)
		api.POST("/steam/games", s.handleSteamGames)
		api.POST("/steam/import", s.handleSteamImport)
		api.GET("/steam/import/:session_id", s.handleSteamSession)
		api.GET("/steam/import/:session_id/progress", s.handleSteamProgress)
		api.POST("/steam/import/:session_id/cancel", s.handleSteamCancel)

		api.POST("/upload", s.handleUpload)
		api.GET("/upload/progress/:task_id", s.handleUploadProgress)
	}

	return s
}

func (s *Server) Start() error {
	return s.router.Run(s.cfg.ServerAddr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() *gin.Engine {
	return s.router
}
