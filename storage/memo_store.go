package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"voiceMemo/core"
)

// MemoQuery scopes a point-in-time read. Results are always newest first.
type MemoQuery struct {
	UserID string
	Limit  int
}

// MemoEvent is one realtime push from the store's subscription hub.
type MemoEvent struct {
	Type string          `json:"type"` // "created", "deleted"
	Memo *core.VoiceMemo `json:"memo"`
}

// MemoStore is the per-user document collection. Writes are create/delete
// only; the store owns fan-out to subscribers.
type MemoStore interface {
	Create(ctx context.Context, memo *core.VoiceMemo) (string, error)
	Get(ctx context.Context, id string) (*core.VoiceMemo, error)
	Query(ctx context.Context, q MemoQuery) ([]*core.VoiceMemo, error)
	Delete(ctx context.Context, id string) error
	// Subscribe returns a channel of events for one user's memos and an
	// unsubscribe func that closes it. Slow consumers drop events rather
	// than block writers.
	Subscribe(userID string) (<-chan MemoEvent, func())
	Ping(ctx context.Context) error
}

// ---------------- subscription hub ----------------

type memoHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan MemoEvent // userID -> subscriber set
}

func newMemoHub() *memoHub {
	return &memoHub{subs: make(map[string]map[int]chan MemoEvent)}
}

func (h *memoHub) subscribe(userID string) (<-chan MemoEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan MemoEvent, 16)
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]chan MemoEvent)
	}
	h.subs[userID][id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[userID]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
	}
	return ch, unsubscribe
}

func (h *memoHub) publish(userID string, ev MemoEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[userID] {
		select {
		case ch <- ev:
		default: // drop for slow consumers
		}
	}
}

// ---------------- Memory implementation (fallback + tests) ----------------

type MemoryMemoStore struct {
	mu    sync.RWMutex
	memos map[string]*core.VoiceMemo
	hub   *memoHub
}

func NewMemoryMemoStore() *MemoryMemoStore {
	return &MemoryMemoStore{memos: make(map[string]*core.VoiceMemo), hub: newMemoHub()}
}

func (s *MemoryMemoStore) Create(ctx context.Context, memo *core.VoiceMemo) (string, error) {
	s.mu.Lock()
	now := time.Now()
	stored := *memo
	stored.ID = uuid.NewString()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.memos[stored.ID] = &stored
	s.mu.Unlock()

	memo.ID = stored.ID
	memo.CreatedAt = stored.CreatedAt
	memo.UpdatedAt = stored.UpdatedAt
	s.hub.publish(stored.UserID, MemoEvent{Type: "created", Memo: &stored})
	return stored.ID, nil
}

func (s *MemoryMemoStore) Get(ctx context.Context, id string) (*core.VoiceMemo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	memo, ok := s.memos[id]
	if !ok {
		return nil, fmt.Errorf("memo %s not found", id)
	}
	copied := *memo
	return &copied, nil
}

func (s *MemoryMemoStore) Query(ctx context.Context, q MemoQuery) ([]*core.VoiceMemo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.VoiceMemo, 0)
	for _, memo := range s.memos {
		if q.UserID != "" && memo.UserID != q.UserID {
			continue
		}
		copied := *memo
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryMemoStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	memo, ok := s.memos[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memo %s not found", id)
	}
	delete(s.memos, id)
	s.mu.Unlock()

	s.hub.publish(memo.UserID, MemoEvent{Type: "deleted", Memo: memo})
	return nil
}

func (s *MemoryMemoStore) Subscribe(userID string) (<-chan MemoEvent, func()) {
	return s.hub.subscribe(userID)
}

func (s *MemoryMemoStore) Ping(ctx context.Context) error { return nil }

// ---------------- Postgres implementation ----------------

type PgMemoStore struct {
	pool *pgxpool.Pool
	hub  *memoHub
}

func NewPgMemoStore(ctx context.Context, postgresURL string) (*PgMemoStore, error) {
	pool, err := pgxpool.New(ctx, postgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PgMemoStore{pool: pool, hub: newMemoHub()}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgMemoStore) ensureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS voice_memos (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			audio_url      TEXT NOT NULL,
			duration       DOUBLE PRECISION NOT NULL DEFAULT 0,
			transcription  TEXT,
			summary        TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL,
			all_categories JSONB NOT NULL DEFAULT '[]',
			tags           JSONB NOT NULL DEFAULT '[]',
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_voice_memos_user_created
			ON voice_memos (user_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure voice_memos table: %w", err)
	}
	return nil
}

func (s *PgMemoStore) Create(ctx context.Context, memo *core.VoiceMemo) (string, error) {
	id := uuid.NewString()
	now := time.Now()

	cats, err := json.Marshal(memo.AllCategories)
	if err != nil {
		return "", fmt.Errorf("marshal categories: %w", err)
	}
	tags, err := json.Marshal(memo.Tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO voice_memos
			(id, user_id, audio_url, duration, transcription, summary, category, all_categories, tags, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		id, memo.UserID, memo.AudioURL, memo.Duration, memo.Transcription,
		memo.Summary, string(memo.Category), cats, tags, now)
	if err != nil {
		return "", fmt.Errorf("insert memo: %w", err)
	}

	memo.ID = id
	memo.CreatedAt = now
	memo.UpdatedAt = now
	s.hub.publish(memo.UserID, MemoEvent{Type: "created", Memo: memo})
	return id, nil
}

func (s *PgMemoStore) Get(ctx context.Context, id string) (*core.VoiceMemo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, audio_url, duration, transcription, summary, category, all_categories, tags, created_at, updated_at
		FROM voice_memos WHERE id = $1`, id)
	return scanMemo(row)
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanMemo(row pgRow) (*core.VoiceMemo, error) {
	var memo core.VoiceMemo
	var transcription *string
	var category string
	var cats, tags []byte
	err := row.Scan(&memo.ID, &memo.UserID, &memo.AudioURL, &memo.Duration,
		&transcription, &memo.Summary, &category, &cats, &tags,
		&memo.CreatedAt, &memo.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if transcription != nil {
		memo.Transcription = *transcription
	}
	memo.Category = core.Category(category)
	if err := json.Unmarshal(cats, &memo.AllCategories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	if err := json.Unmarshal(tags, &memo.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return &memo, nil
}

func (s *PgMemoStore) Query(ctx context.Context, q MemoQuery) ([]*core.VoiceMemo, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, audio_url, duration, transcription, summary, category, all_categories, tags, created_at, updated_at
		FROM voice_memos WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, q.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("query memos: %w", err)
	}
	defer rows.Close()

	memos := make([]*core.VoiceMemo, 0)
	for rows.Next() {
		memo, err := scanMemo(rows)
		if err != nil {
			return nil, err
		}
		memos = append(memos, memo)
	}
	return memos, rows.Err()
}

func (s *PgMemoStore) Delete(ctx context.Context, id string) error {
	memo, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM voice_memos WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete memo %s: %w", id, err)
	}
	s.hub.publish(memo.UserID, MemoEvent{Type: "deleted", Memo: memo})
	return nil
}

func (s *PgMemoStore) Subscribe(userID string) (<-chan MemoEvent, func()) {
	return s.hub.subscribe(userID)
}

func (s *PgMemoStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgMemoStore) Close() {
	s.pool.Close()
}
