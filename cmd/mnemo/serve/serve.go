// Package servecmder provides the serve command for running the memory
// API and MCP servers.
package servecmder

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/api"
	mcpapi "github.com/mnemolabs/mnemo/api/mcp"
	"github.com/mnemolabs/mnemo/cmd/mnemo/runtime"
	"github.com/mnemolabs/mnemo/pkg/config"
	"github.com/mnemolabs/mnemo/pkg/coreblock"
	"github.com/mnemolabs/mnemo/pkg/logger"
	"github.com/mnemolabs/mnemo/pkg/maintenance"
	"github.com/mnemolabs/mnemo/pkg/memory"
	"github.com/mnemolabs/mnemo/pkg/recall"
)

// serveFlags defines every flag the serve command registers, keyed by the
// registry constants in pkg/config.
var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the memory API server to listen on",
	},
	config.FlagStorageProvider: {
		Name:        "storage",
		ViperKey:    "storage.provider",
		Description: "Storage provider (sqlite, postgres)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to SQLite database (default: .mnemo/memories.db)",
	},
	config.FlagPostgresDSN: {
		Name:        "postgres-dsn",
		ViperKey:    "storage.postgres_dsn",
		Description: "Postgres connection string (when --storage postgres)",
	},
	config.FlagEmbeddingProv: {
		Name:        "embedding-provider",
		ViperKey:    "embedding.provider",
		Description: "Embedding provider (ollama)",
	},
	config.FlagEmbeddingTgt: {
		Name:        "embedding-target",
		ViperKey:    "embedding.target",
		Description: "Embedding provider URL",
	},
	config.FlagEmbeddingModel: {
		Name:        "embedding-model",
		ViperKey:    "embedding.model",
		Description: "Embedding model name",
	},
	config.FlagEmbeddingDims: {
		Name:        "embedding-dimensions",
		ViperKey:    "embedding.dimensions",
		Description: "Embedding vector dimensions",
	},
	config.FlagLLMProvider: {
		Name:        "llm-provider",
		ViperKey:    "llm.provider",
		Description: "Completion provider for re-ranking and consolidation (ollama, anthropic)",
	},
	config.FlagLLMTarget: {
		Name:        "llm-target",
		ViperKey:    "llm.target",
		Description: "Completion provider URL",
	},
	config.FlagLLMModel: {
		Name:        "llm-model",
		ViperKey:    "llm.model",
		Description: "Completion model name",
	},
	config.FlagEventsProvider: {
		Name:        "events-provider",
		ViperKey:    "events.provider",
		Description: "Event stream provider (none, kafka)",
	},
	config.FlagEventsBrokers: {
		Name:        "events-brokers",
		ViperKey:    "events.brokers",
		Description: "Comma-separated Kafka broker addresses",
	},
}

// serveFlagKeys is the bind order for BindRegisteredFlags.
var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageProvider,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagLLMProvider,
	config.FlagLLMTarget,
	config.FlagLLMModel,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
}

type ServeCommander struct {
	apiListen       string
	mcpListen       string
	noMCP           bool
	storageProvider string
	sqlitePath      string
	postgresDSN     string
	embeddingProv   string
	embeddingTgt    string
	embeddingModel  string
	embeddingDims   uint
	llmProvider     string
	llmTarget       string
	llmModel        string
	eventsProvider  string
	eventsBrokers   string
	configDir       string
	debug           bool

	viper  *viper.Viper
	logger *zap.Logger
}

const serveLongDesc string = `Run the mnemo memory engine.

Starts the memory API server (save, recall, maintenance, and core block
endpoints) and an MCP server exposing memory_save, memory_recall, and
memory_forget tools for chat orchestrators.

Configuration precedence: CLI flags > MNEMO_* environment variables >
.mnemo/config.toml > defaults.

Examples:
  mnemo serve
  mnemo serve --listen :9090 --sqlite ./memories.db
  mnemo serve --storage postgres --postgres-dsn postgres://localhost/mnemo
  mnemo serve --llm-provider anthropic --llm-model claude-sonnet-4-5`

const serveShortDesc string = "Run the memory API and MCP servers"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("initializing config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageProvider, &cmder.storageProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingProv, &cmder.embeddingProv)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingTgt, &cmder.embeddingTgt)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingModel, &cmder.embeddingModel)
	config.AddUintFlag(cmd, serveFlags, config.FlagEmbeddingDims, &cmder.embeddingDims)
	config.AddStringFlag(cmd, serveFlags, config.FlagLLMProvider, &cmder.llmProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagLLMTarget, &cmder.llmTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagLLMModel, &cmder.llmModel)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsProvider, &cmder.eventsProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsBrokers, &cmder.eventsBrokers)

	cmd.Flags().StringVar(&cmder.mcpListen, "mcp-listen", ":8090", "Address for the MCP server to listen on")
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Disable the MCP server")

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	v := c.viper

	storer, err := runtime.BuildStore(v, c.configDir, c.logger)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer storer.Close()

	embedder, err := runtime.BuildEmbedder(v)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	completer, err := runtime.BuildCompleter(v)
	if err != nil {
		return fmt.Errorf("creating completer: %w", err)
	}

	publisher, err := runtime.BuildPublisher(v, c.logger)
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer publisher.Close()

	memories := memory.NewService(storer, embedder, publisher, c.logger)
	retriever := recall.NewRetriever(storer, embedder, completer, c.logger)
	sweeper := maintenance.NewSweeper(storer, maintenance.Config{
		EvictionThreshold:  v.GetFloat64("maintenance.eviction_threshold"),
		MergeThreshold:     v.GetFloat64("maintenance.merge_threshold"),
		TrashRetentionDays: v.GetInt("maintenance.trash_retention_days"),
	}, publisher, c.logger)
	consolidator := coreblock.NewConsolidator(storer, completer, coreblock.Config{
		AdoptThreshold: v.GetInt("consolidation.adopt_threshold"),
	}, publisher, c.logger)

	apiServer := api.NewServer(api.Config{
		ListenAddr: v.GetString("api.listen"),
	}, memories, retriever, sweeper, consolidator, c.logger)

	c.logger.Info("starting api server",
		zap.String("api_addr", v.GetString("api.listen")),
		zap.String("storage", v.GetString("storage.provider")),
	)

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	// Start API server in goroutine
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Start MCP server in goroutine unless disabled
	var mcpHTTP *http.Server
	if !c.noMCP {
		mcpServer, err := mcpapi.NewServer(mcpapi.Config{
			Memories:  memories,
			Retriever: retriever,
			Logger:    c.logger,
		})
		if err != nil {
			return fmt.Errorf("creating MCP server: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/mcp", mcpServer.Handler())
		mcpHTTP = &http.Server{
			Addr:    c.mcpListen,
			Handler: mux,
		}

		c.logger.Info("starting mcp server",
			zap.String("mcp_addr", c.mcpListen),
		)

		go func() {
			if err := mcpHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("MCP server error: %w", err)
			}
		}()
	}

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

		if mcpHTTP != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mcpHTTP.Shutdown(ctx); err != nil {
				c.logger.Warn("mcp shutdown", zap.Error(err))
			}
		}
		if err := apiServer.Shutdown(); err != nil {
			c.logger.Warn("api shutdown", zap.Error(err))
		}
		return nil
	}
}
