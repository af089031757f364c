package databases

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/ecoachlabs/ideamind-sub006/pkg/config"
)

// chromemDatabaseProvider is the embedded, zero-config vector backend:
// no external service, optional gzip-compressed file persistence.
// Vectors arrive pre-computed from an EmbedderProvider, so its
// chromem.EmbeddingFunc is never actually invoked.
type chromemDatabaseProvider struct {
	db          *chromem.DB
	persistPath string
	compress    bool

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewChromemDatabaseProviderFromConfig(cfg *config.VectorStoreConfig) (DatabaseProvider, error) {
	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("chromem: create persist dir %s: %w", cfg.PersistPath, err)
		}
		dbPath := cfg.PersistPath + "/vectors.gob"
		if cfg.Compress {
			dbPath += ".gz"
		}
		if _, err := os.Stat(dbPath); err == nil {
			loaded, loadErr := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if loadErr != nil {
				slog.Warn("chromem: failed to load existing vector database, starting fresh", "path", dbPath, "error", loadErr)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	return &chromemDatabaseProvider{
		db:          db,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (p *chromemDatabaseProvider) identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: embedding function invoked, vectors must be pre-computed")
}

func (p *chromemDatabaseProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.collections[name]; ok {
		return col, nil
	}
	col, err := p.db.GetOrCreateCollection(name, nil, p.identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("chromem: get/create collection %s: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

func (p *chromemDatabaseProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]interface{}) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}
	strMeta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMeta[k] = fmt.Sprint(v)
	}
	content, _ := metadata["content"].(string)
	doc := chromem.Document{ID: id, Content: content, Metadata: strMeta, Embedding: vector}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: upsert %s: %w", id, err)
	}
	if err := p.persist(); err != nil {
		slog.Warn("chromem: persist after upsert failed", "error", err)
	}
	return nil
}

func (p *chromemDatabaseProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}
	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: search %s: %w", collection, err)
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		out = append(out, SearchResult{ID: r.ID, Score: r.Similarity, Content: r.Content, Metadata: metadata})
	}
	return out, nil
}

func (p *chromemDatabaseProvider) Delete(ctx context.Context, collection string, id string) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: delete %s: %w", id, err)
	}
	return p.persist()
}

func (p *chromemDatabaseProvider) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	_, err := p.getCollection(collection)
	return err
}

func (p *chromemDatabaseProvider) DeleteCollection(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("chromem: delete collection %s: %w", collection, err)
	}
	delete(p.collections, collection)
	return p.persist()
}

func (p *chromemDatabaseProvider) Close() error {
	return p.persist()
}

func (p *chromemDatabaseProvider) persist() error {
	if p.persistPath == "" {
		return nil
	}
	dbPath := p.persistPath + "/vectors.gob"
	if p.compress {
		dbPath += ".gz"
	}
	//nolint:staticcheck // Export is the stable persistence entry point in this chromem-go version.
	if err := p.db.Export(dbPath, p.compress, ""); err != nil {
		return fmt.Errorf("chromem: persist: %w", err)
	}
	return nil
}
