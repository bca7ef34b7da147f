package engine

import (
	"context"
	"sort"
	"time"

	"kiln/internal/cache"
	"kiln/internal/models"
	"kiln/internal/ollama"
)

// Curated lists the small chat models offered even when nothing is installed.
var Curated = []models.ModelInfo{
	{ID: "tinyllama", Label: "TinyLlama 1.1B", Description: "Fast and tiny; great for demos"},
	{ID: "phi3:mini", Label: "Phi-3 Mini 4K", Description: "Small, capable instruct model"},
	{ID: "qwen2:1.5b", Label: "Qwen2 1.5B", Description: "Quality 1.5B instruct model"},
}

const (
	catalogCache = "catalog"
	catalogKey   = "models"
	catalogTTL   = 10 * time.Minute
)

// Catalog is the list of models offered in the model selector.
type Catalog struct {
	client *ollama.Client
	cache  *cache.Dir
}

// NewCatalog returns a catalog over client. cache may be nil.
func NewCatalog(client *ollama.Client, c *cache.Dir) *Catalog {
	return &Catalog{client: client, cache: c}
}

// Cached returns the last catalog saved to the cache, or the curated list.
func (c *Catalog) Cached() []models.ModelInfo {
	var list []models.ModelInfo
	if c.cache != nil && c.cache.Get(catalogCache, catalogKey, &list) && len(list) > 0 {
		return list
	}
	return Merge(Curated, nil)
}

// List asks the runtime for installed models and merges them with the
// curated list. When the runtime is unreachable the cached or curated list
// is returned along with the error.
func (c *Catalog) List(ctx context.Context) ([]models.ModelInfo, error) {
	installed, err := c.client.ListModels(ctx)
	if err != nil {
		return c.Cached(), err
	}
	list := Merge(Curated, installed)
	if c.cache != nil {
		_ = c.cache.Put(catalogCache, catalogKey, list, catalogTTL)
	}
	return list, nil
}

// Merge marks curated models that are installed and appends the installed
// models the curated list does not name, sorted by name.
func Merge(curated []models.ModelInfo, installed []ollama.Model) []models.ModelInfo {
	out := make([]models.ModelInfo, len(curated))
	copy(out, curated)

	var extra []models.ModelInfo
	for _, m := range installed {
		matched := false
		for i := range out {
			if ollama.MatchName(m.Name, out[i].ID) {
				out[i].Installed = true
				out[i].SizeBytes = m.Size
				matched = true
			}
		}
		if !matched {
			extra = append(extra, models.ModelInfo{
				ID:        m.Name,
				Label:     m.Name,
				SizeBytes: m.Size,
				Installed: true,
			})
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].ID < extra[j].ID })
	return append(out, extra...)
}
