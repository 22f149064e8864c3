package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const defaultLimit = 20

// Meili implements Index on a single Meilisearch index.
type Meili struct {
	client  meili.ServiceManager
	uid     string
	logger  zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. The
// returned value is usable while Meilisearch is down; Healthy reports false
// until the background health loop sees it recover.
func NewMeili(url, apiKey, uid string, logger zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		uid:    uid,
		logger: logger.With().Str("component", "meili").Str("index", uid).Logger(),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        m.uid,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(m.uid)
	filterable := []interface{}{"uri", "consumer"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"uri", "text", "quote"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Get(_ context.Context, id string) (Document, error) {
	doc := Document{}
	if err := m.client.Index(m.uid).GetDocument(id, nil, &doc); err != nil {
		var apiErr *meili.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("document %s: %w", id, ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("meilisearch get %s: %w", id, err)
	}
	return doc, nil
}

func (m *Meili) Put(_ context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := m.client.Index(m.uid).AddDocuments(docs, nil); err != nil {
		return fmt.Errorf("meilisearch add documents: %w", err)
	}
	return nil
}

func (m *Meili) Delete(_ context.Context, id string) error {
	if _, err := m.client.Index(m.uid).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("meilisearch delete %s: %w", id, err)
	}
	return nil
}

func (m *Meili) List(ctx context.Context, limit, offset int) ([]Document, int, error) {
	return m.page(ctx, &meili.SearchRequest{}, limit, offset)
}

func (m *Meili) SearchURI(ctx context.Context, uri string, limit, offset int) ([]Document, int, error) {
	req := &meili.SearchRequest{Query: uri}
	if uri != "" {
		req.AttributesToSearchOn = []string{"uri"}
	}
	return m.page(ctx, req, limit, offset)
}

func (m *Meili) page(ctx context.Context, req *meili.SearchRequest, limit, offset int) ([]Document, int, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	req.IndexUID = m.uid
	req.Limit = int64(limit)
	req.Offset = int64(max(offset, 0))
	return m.search(ctx, req)
}

func (m *Meili) search(_ context.Context, req *meili.SearchRequest) ([]Document, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{req},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	docs := make([]Document, 0)
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			doc, err := hitToDocument(hit)
			if err != nil {
				return nil, 0, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, total, nil
}

func hitToDocument(hit meili.Hit) (Document, error) {
	doc := make(Document, len(hit))
	for key, raw := range hit {
		if len(key) > 0 && key[0] == '_' {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode hit field %s: %w", key, err)
		}
		doc[key] = v
	}
	return doc, nil
}
