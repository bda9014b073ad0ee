// Package runtime wires configured components for CLI commands: store
// driver, embedder, completer, and event publisher, all resolved from the
// viper precedence chain.
package runtime

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mnemolabs/mnemo/pkg/dotdir"
	"github.com/mnemolabs/mnemo/pkg/embeddings"
	embollama "github.com/mnemolabs/mnemo/pkg/embeddings/ollama"
	"github.com/mnemolabs/mnemo/pkg/eventstream"
	"github.com/mnemolabs/mnemo/pkg/eventstream/kafka"
	"github.com/mnemolabs/mnemo/pkg/eventstream/nop"
	"github.com/mnemolabs/mnemo/pkg/llm"
	"github.com/mnemolabs/mnemo/pkg/llm/anthropic"
	llmollama "github.com/mnemolabs/mnemo/pkg/llm/ollama"
	"github.com/mnemolabs/mnemo/pkg/store"
)

// databaseFile is the default SQLite file inside the .mnemo/ directory.
const databaseFile = "memories.db"

// BuildStore constructs the configured store driver. An empty SQLite path
// resolves to memories.db in the .mnemo/ directory.
func BuildStore(v *viper.Viper, configDir string, logger *zap.Logger) (store.Driver, error) {
	dbPath := v.GetString("storage.sqlite_path")
	if dbPath == "" {
		target, err := dotdir.NewManager().Target(configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving database dir: %w", err)
		}
		dbPath = filepath.Join(target, databaseFile)
	}

	return store.New(store.Config{
		Provider:   v.GetString("storage.provider"),
		DBPath:     dbPath,
		DSN:        v.GetString("storage.postgres_dsn"),
		Dimensions: v.GetUint("embedding.dimensions"),
	}, logger)
}

// BuildEmbedder constructs the configured embedding client.
func BuildEmbedder(v *viper.Viper) (embeddings.Embedder, error) {
	provider := v.GetString("embedding.provider")
	switch provider {
	case "", "ollama":
		return embollama.NewEmbedder(embollama.EmbedderConfig{
			BaseURL: v.GetString("embedding.target"),
			Model:   v.GetString("embedding.model"),
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

// BuildCompleter constructs the configured completion client used for
// re-ranking, classification, and block rewriting.
func BuildCompleter(v *viper.Viper) (llm.Completer, error) {
	provider := v.GetString("llm.provider")
	switch provider {
	case "anthropic":
		return anthropic.NewCompleter(anthropic.Config{
			APIKey:  v.GetString("llm.api_key"),
			BaseURL: v.GetString("llm.target"),
			Model:   v.GetString("llm.model"),
		})
	case "", "ollama":
		return llmollama.NewCompleter(llmollama.Config{
			BaseURL: v.GetString("llm.target"),
			Model:   v.GetString("llm.model"),
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// BuildPublisher constructs the configured event publisher. The "none"
// provider returns a no-op publisher.
func BuildPublisher(v *viper.Viper, logger *zap.Logger) (eventstream.Publisher, error) {
	provider := v.GetString("events.provider")
	switch provider {
	case "", "none":
		return nop.NewPublisher(), nil
	case "kafka":
		return kafka.NewPublisher(kafka.Config{
			Brokers: splitBrokers(v.GetString("events.brokers")),
			Topic:   v.GetString("events.topic"),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown events provider %q", provider)
	}
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
