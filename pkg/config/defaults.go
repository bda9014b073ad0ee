package config

const (
	defaultStorageProvider = "sqlite"

	defaultAPIListen = ":8080"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "mxbai-embed-large"
	defaultEmbeddingDimensions = 1024

	defaultLLMProvider = "ollama"
	defaultLLMTarget   = "http://localhost:11434"
	defaultLLMModel    = "llama3.2"

	defaultEventsProvider = "none"
	defaultEventsBrokers  = "localhost:9092"
	defaultEventsTopic    = "mnemo.memory.events"

	defaultEvictionThreshold  = 0.05
	defaultMergeThreshold     = 0.90
	defaultTrashRetentionDays = 30

	defaultAdoptThreshold = 2
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider: defaultStorageProvider,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		LLM: LLMConfig{
			Provider: defaultLLMProvider,
			Target:   defaultLLMTarget,
			Model:    defaultLLMModel,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Brokers:  defaultEventsBrokers,
			Topic:    defaultEventsTopic,
		},
		Maintenance: MaintenanceConfig{
			EvictionThreshold:  defaultEvictionThreshold,
			MergeThreshold:     defaultMergeThreshold,
			TrashRetentionDays: defaultTrashRetentionDays,
		},
		Consolidation: ConsolidationConfig{
			AdoptThreshold: defaultAdoptThreshold,
		},
	}
}
