package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	"voiceMemo/config"
	"voiceMemo/core"
)

// VectorStore indexes memo content for semantic search. Upsert is called
// after a memo persists; Search is user-scoped.
type VectorStore interface {
	Upsert(ctx context.Context, memo *core.VoiceMemo) error
	Search(ctx context.Context, userID, query string, topK int) ([]core.MemoHit, error)
}

// NewVectorStore picks the backend from the STORE env var, falling back to
// the in-memory index when the configured backend cannot start.
func NewVectorStore(cfg *config.Config) VectorStore {
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("STORE")))
	switch kind {
	case "milvus":
		if !cfg.HasValidAPI() {
			config.PrintConfigInstructions()
			fmt.Println("Warning: API configuration required for Milvus store, falling back to memory store")
			break
		}
		s, err := newMilvusVectorStore(cfg)
		if err != nil {
			fmt.Printf("Warning: Failed to initialize Milvus store (%v), falling back to memory store\n", err)
			break
		}
		return s
	case "pgvector":
		if !cfg.HasValidAPI() {
			config.PrintConfigInstructions()
			fmt.Println("Warning: API configuration required for PgVector store, falling back to memory store")
			break
		}
		s, err := newPgVectorStore(cfg)
		if err != nil {
			fmt.Printf("Warning: Failed to initialize PgVector store (%v), falling back to memory store\n", err)
			break
		}
		return s
	}
	return NewMemoryVectorStore()
}

// memoContent is the text a memo is indexed under.
func memoContent(memo *core.VoiceMemo) string {
	return strings.TrimSpace(memo.Transcription + " " + memo.Summary)
}

// ---------------- Memory implementation (kept for fallback) ----------------

type MemoryVectorStore struct {
	mu   sync.RWMutex
	docs map[string][]memoDoc // userID -> docs
}

type memoDoc struct {
	memoID   string
	category core.Category
	summary  string
	text     string
	embed    map[string]float64 // term -> weight
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{docs: make(map[string][]memoDoc)}
}

func termEmbed(text string) map[string]float64 {
	vec := make(map[string]float64)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		vec[tok]++
	}
	return vec
}

func termCosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for k, v := range a {
		na += v * v
		if w, ok := b[k]; ok {
			dot += v * w
		}
	}
	for _, w := range b {
		nb += w * w
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *MemoryVectorStore) Upsert(ctx context.Context, memo *core.VoiceMemo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.docs[memo.UserID]
	kept := docs[:0]
	for _, d := range docs {
		if d.memoID != memo.ID {
			kept = append(kept, d)
		}
	}
	s.docs[memo.UserID] = append(kept, memoDoc{
		memoID:   memo.ID,
		category: memo.Category,
		summary:  memo.Summary,
		text:     memo.Transcription,
		embed:    termEmbed(memoContent(memo)),
	})
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, userID, query string, topK int) ([]core.MemoHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.docs[userID]
	qv := termEmbed(strings.ToLower(query))
	hits := make([]core.MemoHit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, core.MemoHit{
			Score:    termCosine(qv, d.embed),
			MemoID:   d.memoID,
			Category: d.category,
			Summary:  d.summary,
			Text:     d.text,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK <= 0 {
		topK = 5
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// ---------------- shared embedding client ----------------

type embedder struct {
	cli   *openai.Client
	model string
}

func newEmbedder(cfg *config.Config) *embedder {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &embedder{cli: openai.NewClientWithConfig(oc), model: cfg.EmbeddingModel}
}

func (e *embedder) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %v", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

// ---------------- PgVector implementation ----------------

type PgVectorStore struct {
	pool *pgxpool.Pool
	emb  *embedder
}

func newPgVectorStore(cfg *config.Config) (*PgVectorStore, error) {
	dbURL := cfg.PostgresURL
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("postgres_url not configured")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgVectorStore{pool: pool, emb: newEmbedder(cfg)}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) ensureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS memo_vectors (
			memo_id   TEXT PRIMARY KEY,
			user_id   TEXT NOT NULL,
			category  TEXT NOT NULL,
			summary   TEXT NOT NULL,
			content   TEXT NOT NULL,
			embedding vector(1536)
		);
		CREATE INDEX IF NOT EXISTS idx_memo_vectors_user ON memo_vectors (user_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure memo_vectors table: %w", err)
	}
	return nil
}

func (s *PgVectorStore) Upsert(ctx context.Context, memo *core.VoiceMemo) error {
	content := memoContent(memo)
	vec, err := s.emb.embed(ctx, strings.ToLower(content))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO memo_vectors (memo_id, user_id, category, summary, content, embedding)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (memo_id) DO UPDATE
		SET category = EXCLUDED.category, summary = EXCLUDED.summary,
		    content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
		memo.ID, memo.UserID, string(memo.Category), memo.Summary, content, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("upsert memo vector: %w", err)
	}
	return nil
}

func (s *PgVectorStore) Search(ctx context.Context, userID, query string, topK int) ([]core.MemoHit, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := s.emb.embed(ctx, strings.ToLower(query))
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT memo_id, category, summary, content, 1 - (embedding <=> $1) AS score
		FROM memo_vectors WHERE user_id = $2
		ORDER BY embedding <=> $1 LIMIT $3`,
		pgvector.NewVector(vec), userID, topK)
	if err != nil {
		return nil, fmt.Errorf("search memo vectors: %w", err)
	}
	defer rows.Close()

	hits := make([]core.MemoHit, 0, topK)
	for rows.Next() {
		var h core.MemoHit
		var category string
		if err := rows.Scan(&h.MemoID, &category, &h.Summary, &h.Text, &h.Score); err != nil {
			return nil, err
		}
		h.Category = core.Category(category)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ---------------- Milvus implementation ----------------

type MilvusVectorStore struct {
	mc   client.Client
	coll string
	dim  int
	emb  *embedder
}

func newMilvusVectorStore(cfg *config.Config) (*MilvusVectorStore, error) {
	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "voice_memos"
	}

	mc, err := client.NewClient(context.Background(), client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusVectorStore{mc: mc, coll: coll, dim: 1536, emb: newEmbedder(cfg)}
	if err := s.ensureSchemaAndIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusVectorStore) ensureSchemaAndIndex() error {
	ctx := context.Background()
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("memo_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("user_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		schema.WithField(entity.NewField().WithName("category").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("summary").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))
		schema.WithField(entity.NewField().WithName("content").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) Upsert(ctx context.Context, memo *core.VoiceMemo) error {
	content := memoContent(memo)
	vec, err := s.emb.embed(ctx, strings.ToLower(content))
	if err != nil {
		return err
	}
	_, err = s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("memo_id", []string{memo.ID}),
		entity.NewColumnVarChar("user_id", []string{memo.UserID}),
		entity.NewColumnVarChar("category", []string{string(memo.Category)}),
		entity.NewColumnVarChar("summary", []string{memo.Summary}),
		entity.NewColumnVarChar("content", []string{content}),
		entity.NewColumnFloatVector("vector", s.dim, [][]float32{vec}),
	)
	if err != nil {
		return fmt.Errorf("insert memo vector: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) Search(ctx context.Context, userID, query string, topK int) ([]core.MemoHit, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := s.emb.embed(ctx, strings.ToLower(query))
	if err != nil {
		return nil, err
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)
	filter := fmt.Sprintf("user_id == \"%s\"", strings.ReplaceAll(userID, "\"", "\\\""))
	res, err := s.mc.Search(ctx, s.coll, []string{}, filter,
		[]string{"memo_id", "category", "summary", "content"},
		[]entity.Vector{entity.FloatVector(vec)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []core.MemoHit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var h core.MemoHit
			if c, ok := cols["memo_id"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					h.MemoID = data[i]
				}
			}
			if c, ok := cols["category"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					h.Category = core.Category(data[i])
				}
			}
			if c, ok := cols["summary"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					h.Summary = data[i]
				}
			}
			if c, ok := cols["content"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					h.Text = data[i]
				}
			}
			h.Score = float64(r.Scores[i])
			hits = append(hits, h)
		}
	}
	return hits, nil
}
