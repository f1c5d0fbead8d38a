package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/timmy/tunematch/internal/config"
	"github.com/timmy/tunematch/internal/domain"
	"github.com/timmy/tunematch/internal/logger"
)

// EmbeddingRegistry holds every configured embedding backend and picks the
// one whose model identity goes into the model bundle.
type EmbeddingRegistry struct {
	configs     map[string]*config.EmbeddingConfig
	providers   map[string]EmbeddingProvider
	defaultName string
	mu          sync.RWMutex
}

// NewEmbeddingRegistry creates providers for all valid embedding configurations.
// Invalid configurations are logged and skipped rather than causing failure.
func NewEmbeddingRegistry(embeddings []config.EmbeddingConfig) (*EmbeddingRegistry, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("at least one embedding configuration is required")
	}

	r := &EmbeddingRegistry{
		configs:   make(map[string]*config.EmbeddingConfig),
		providers: make(map[string]EmbeddingProvider),
	}

	for i := range embeddings {
		embCfg := embeddings[i].Clone()
		embCfg.ResolveEnvVars()

		if err := embCfg.ValidateWithAPIKey(); err != nil {
			logger.Warn("Skipping invalid embedding config: index=%d, error=%v", i, err)
			continue
		}

		provider, err := NewEmbeddingProvider(&EmbeddingProviderConfig{
			Provider:   embCfg.Provider,
			Model:      embCfg.Model,
			APIKey:     embCfg.APIKey,
			BaseURL:    embCfg.BaseURL,
			Dimensions: embCfg.Dimensions,
		})
		if err != nil {
			logger.Warn("Failed to create embedding provider, skipping: name=%s, error=%v", embCfg.Name, err)
			continue
		}

		r.configs[embCfg.Name] = embCfg
		r.providers[embCfg.Name] = provider

		if embCfg.IsDefault {
			if r.defaultName != "" {
				logger.Warn("Multiple default embeddings configured, using latest: existing=%s, new=%s",
					r.defaultName, embCfg.Name)
			}
			r.defaultName = embCfg.Name
		}

		logger.Info("Registered embedding: name=%s, provider=%s, model=%s, dim=%d, default=%v",
			embCfg.Name, embCfg.Provider, embCfg.Model, embCfg.Dimensions, embCfg.IsDefault)
	}

	if len(r.configs) == 0 {
		return nil, fmt.Errorf("no valid embedding configurations found")
	}

	// Map order is random; fall back to the first name alphabetically so the
	// bundle hash does not change between runs.
	if r.defaultName == "" {
		r.defaultName = r.namesLocked()[0]
		logger.Info("Using first embedding as default: name=%s", r.defaultName)
	}

	return r, nil
}

// Default returns the default embedding provider.
func (r *EmbeddingRegistry) Default() EmbeddingProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[r.defaultName]
}

func (r *EmbeddingRegistry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Get returns the provider for name. An empty name means the default.
func (r *EmbeddingRegistry) Get(name string) (EmbeddingProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	provider, ok := r.providers[name]
	return provider, ok
}

// GetConfig returns the embedding configuration for name. An empty name means the default.
func (r *EmbeddingRegistry) GetConfig(name string) (*config.EmbeddingConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Names returns the registered names in sorted order.
func (r *EmbeddingRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *EmbeddingRegistry) namesLocked() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *EmbeddingRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// ModelBundle derives the bundle in effect for the named embedding (default
// when empty). The embedding model id includes provider and dimensions since
// either changes the vector space.
func (r *EmbeddingRegistry) ModelBundle(name string, bundle config.ModelBundleConfig) (domain.ModelBundle, error) {
	cfg, ok := r.GetConfig(name)
	if !ok {
		return domain.ModelBundle{}, fmt.Errorf("embedding %q is not registered", name)
	}
	return domain.ModelBundle{
		EmbeddingModelID: fmt.Sprintf("%s/%s@%d", cfg.Provider, cfg.Model, cfg.Dimensions),
		RerankerModelID:  bundle.RerankerModel,
		EmotionModelID:   bundle.EmotionModel,
		Version:          bundle.Version,
	}, nil
}
