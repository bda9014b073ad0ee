// Package api provides the HTTP API server over the memory engine: memory
// CRUD and recall for the chat orchestrator, plus the maintenance and
// consolidation triggers.
package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/coreblock"
	"github.com/mnemolabs/mnemo/pkg/maintenance"
	"github.com/mnemolabs/mnemo/pkg/memory"
	"github.com/mnemolabs/mnemo/pkg/recall"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string
}

// errorResponse is the JSON body for failed requests.
type errorResponse struct {
	Error string `json:"error"`
}

// Server is the API server for the mnemo memory engine.
type Server struct {
	config       Config
	memories     *memory.Service
	retriever    *recall.Retriever
	sweeper      *maintenance.Sweeper
	consolidator *coreblock.Consolidator
	logger       *zap.Logger
	app          *fiber.App
}

// NewServer creates a new API server. Components are injected so they can
// be shared with the MCP server.
func NewServer(
	config Config,
	memories *memory.Service,
	retriever *recall.Retriever,
	sweeper *maintenance.Sweeper,
	consolidator *coreblock.Consolidator,
	logger *zap.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:       config,
		memories:     memories,
		retriever:    retriever,
		sweeper:      sweeper,
		consolidator: consolidator,
		logger:       logger,
		app:          app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/memories", s.handleSaveMemory)
	v1.Patch("/memories/:id", s.handleUpdateMemory)
	v1.Delete("/memories/:id", s.handleDeleteMemory)
	v1.Post("/memories/:id/restore", s.handleRestoreMemory)
	v1.Get("/memories/trash", s.handleListTrash)

	v1.Post("/recall", s.handleRecall)

	v1.Post("/maintenance/sweep", s.handleSweep)

	v1.Post("/coreblocks/signals", s.handleCollectSignals)
	v1.Post("/coreblocks/rewrite", s.handleRewrite)
	v1.Get("/coreblocks", s.handleListBlocks)
	v1.Get("/coreblocks/:id/history", s.handleBlockHistory)

	return s
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
