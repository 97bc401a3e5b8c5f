// Package brain stores an agent's knowledge items and retrieves the
// ones relevant to a query.
//
// Retrieval has two paths. A query carrying an explicit mention
// ("@pricing-plans") is answered by topic lookup, which always wins over
// semantic search. Otherwise the query is embedded and compared with
// every active item; only items above a similarity floor are returned.
// An empty result is a normal outcome that callers must surface to the
// model as "no grounded information".
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/stagehand/internal/embeddings"
	"github.com/nugget/stagehand/internal/events"
)

// Config controls indexing and retrieval.
type Config struct {
	// SimilarityFloor is the minimum cosine similarity for semantic
	// results. Default: 0.7.
	SimilarityFloor float64

	// Limit is the default result count when a caller passes zero.
	// Default: 3.
	Limit int

	// MaxKeywords caps the derived keyword list. Default: 20.
	MaxKeywords int

	// EmbedTimeout bounds each embedding call. Default: 15 seconds.
	EmbedTimeout time.Duration

	// BatchConcurrency limits parallel embedding in AddBatch.
	// Default: 4.
	BatchConcurrency int
}

func (c *Config) applyDefaults() {
	if c.SimilarityFloor <= 0 {
		c.SimilarityFloor = 0.7
	}
	if c.Limit <= 0 {
		c.Limit = 3
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = 20
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 15 * time.Second
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 4
	}
}

// Knowledge is the authoring input for one item.
type Knowledge struct {
	Topic       string            `yaml:"topic" json:"topic"`
	Content     string            `yaml:"content" json:"content"`
	ContentType string            `yaml:"content_type" json:"content_type"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata,omitempty"`
}

// Retrieval mode values.
const (
	ModeNone     = "none"
	ModeMention  = "mention"
	ModeSemantic = "semantic"
)

// Retrieval is the detailed outcome of a query.
type Retrieval struct {
	Items    []string
	Topics   []string
	Mode     string
	TopScore float32
}

// Brain indexes and retrieves knowledge. Construct one per process and
// share it; it keeps no per-session state.
type Brain struct {
	store    ItemStore
	embedder embeddings.Embedder
	config   Config
	logger   *slog.Logger
	bus      *events.Bus
}

// New creates a brain over store using embedder for vectors.
func New(store ItemStore, embedder embeddings.Embedder, cfg Config, logger *slog.Logger) *Brain {
	cfg.applyDefaults()
	return &Brain{
		store:    store,
		embedder: embedder,
		config:   cfg,
		logger:   logger.With("component", "brain"),
	}
}

// SetEventBus publishes knowledge changes to bus. A nil bus disables
// publishing.
func (b *Brain) SetEventBus(bus *events.Bus) {
	b.bus = bus
}

// SimilarityFloor returns the configured floor.
func (b *Brain) SimilarityFloor() float64 {
	return b.config.SimilarityFloor
}

// AddKnowledge embeds and stores one item. The embedding is computed
// over the raw content, never the formatted wrapper.
func (b *Brain) AddKnowledge(ctx context.Context, agentID string, k Knowledge) (*Item, error) {
	if strings.TrimSpace(k.Topic) == "" {
		return nil, fmt.Errorf("knowledge topic is required")
	}
	if strings.TrimSpace(k.Content) == "" {
		return nil, fmt.Errorf("knowledge content is required for topic %q", k.Topic)
	}
	if k.ContentType == "" {
		k.ContentType = "text"
	}

	vec, err := b.embed(ctx, k.Content)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", k.Topic, err)
	}

	now := time.Now().UTC()
	item := &Item{
		AgentID:          agentID,
		Topic:            k.Topic,
		RawContent:       k.Content,
		FormattedContent: FormatDocument(k.Topic, k.ContentType, k.Content, k.Metadata, now, now),
		ContentType:      k.ContentType,
		Embedding:        vec,
		Keywords:         Keywords(k.Topic+"\n\n"+k.Content, b.config.MaxKeywords),
		Metadata:         k.Metadata,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := b.store.Insert(item); err != nil {
		return nil, fmt.Errorf("store %q: %w", k.Topic, err)
	}

	b.logger.Info("knowledge added",
		"agent", agentID, "topic", k.Topic, "id", item.ID, "keywords", len(item.Keywords))
	b.bus.Emit(events.SourceBrain, events.KindKnowledgeAdded, map[string]any{
		"agent_id": agentID,
		"id":       item.ID,
		"topic":    item.Topic,
	})
	return item, nil
}

// AddBatch adds several items, embedding them concurrently. It stops
// at the first failure; items stored before it remain stored.
func (b *Brain) AddBatch(ctx context.Context, agentID string, ks []Knowledge) ([]*Item, error) {
	items := make([]*Item, len(ks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.BatchConcurrency)
	for i, k := range ks {
		g.Go(func() error {
			item, err := b.AddKnowledge(gctx, agentID, k)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// ListTopics returns the active topics for agentID.
func (b *Brain) ListTopics(agentID string) ([]Topic, error) {
	return b.store.ListTopics(agentID)
}

// Deactivate hides an item from retrieval without deleting it.
func (b *Brain) Deactivate(id string) error {
	if err := b.store.SetActive(id, false); err != nil {
		return fmt.Errorf("deactivate %s: %w", id, err)
	}
	return nil
}

// RetrieveContext returns up to limit context strings for query.
func (b *Brain) RetrieveContext(ctx context.Context, agentID, query string, limit int) []string {
	return b.Retrieve(ctx, agentID, query, limit).Items
}

// Retrieve is RetrieveContext with details about how the result was
// produced. Store or embedding failures degrade to an empty result.
func (b *Brain) Retrieve(ctx context.Context, agentID, query string, limit int) Retrieval {
	if limit <= 0 {
		limit = b.config.Limit
	}
	empty := Retrieval{Mode: ModeNone}

	items, err := b.store.ActiveItems(agentID)
	if err != nil {
		b.logger.Warn("knowledge lookup failed", "agent", agentID, "error", err)
		return empty
	}
	if len(items) == 0 {
		return empty
	}

	if mentions := Mentions(query); len(mentions) > 0 {
		if r, ok := byMention(items, mentions, limit); ok {
			b.logger.Debug("knowledge retrieved by mention",
				"agent", agentID, "mentions", mentions, "items", len(r.Items))
			return r
		}
	}

	if strings.TrimSpace(query) == "" {
		return empty
	}

	vec, err := b.embed(ctx, query)
	if err != nil {
		b.logger.Warn("query embedding failed, continuing without knowledge",
			"agent", agentID, "error", err)
		return empty
	}

	type scored struct {
		item  *Item
		score float32
	}
	var hits []scored
	for i := range items {
		score := embeddings.CosineSimilarity(vec, items[i].Embedding)
		if float64(score) > b.config.SimilarityFloor {
			hits = append(hits, scored{item: &items[i], score: score})
		}
	}
	if len(hits) == 0 {
		b.logger.Debug("no knowledge above similarity floor",
			"agent", agentID, "floor", b.config.SimilarityFloor)
		return empty
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	r := Retrieval{Mode: ModeSemantic, TopScore: hits[0].score}
	for _, h := range hits {
		r.Items = append(r.Items, "## "+h.item.Topic+"\n"+h.item.RawContent)
		r.Topics = append(r.Topics, h.item.Topic)
	}
	b.logger.Debug("knowledge retrieved by similarity",
		"agent", agentID, "items", len(r.Items), "top_score", r.TopScore)
	return r
}

func (b *Brain) embed(ctx context.Context, s string) ([]float32, error) {
	if b.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	ctx, cancel := context.WithTimeout(ctx, b.config.EmbedTimeout)
	defer cancel()
	return b.embedder.Generate(ctx, s)
}

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([\p{L}\p{N}][\p{L}\p{N}_\-]*)`)

// Mentions returns the reference names in query with hyphens and
// underscores turned into spaces: "@pricing-plans" yields
// "pricing plans".
func Mentions(query string) []string {
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(query, -1) {
		name := strings.Trim(strings.NewReplacer("-", " ", "_", " ").Replace(m[1]), " ")
		if name != "" {
			out = append(out, strings.ToLower(name))
		}
	}
	return out
}

// byMention matches mentions against topics by case-insensitive
// substring and returns raw contents.
func byMention(items []Item, mentions []string, limit int) (Retrieval, bool) {
	r := Retrieval{Mode: ModeMention}
	seen := make(map[string]bool)
	for _, mention := range mentions {
		for i := range items {
			it := &items[i]
			if seen[it.ID] || !strings.Contains(strings.ToLower(it.Topic), mention) {
				continue
			}
			seen[it.ID] = true
			r.Items = append(r.Items, it.RawContent)
			r.Topics = append(r.Topics, it.Topic)
			if len(r.Items) == limit {
				return r, true
			}
		}
	}
	return r, len(r.Items) > 0
}
