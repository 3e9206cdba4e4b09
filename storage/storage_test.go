package storage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

func sampleBoard() domain.Board {
	b := domain.NewBoard(domain.BoardKey{ProjectID: "p1", BoardName: "Sprint 1"})
	prio := 3
	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	b.Todo = []domain.Card{
		{ID: "c2", Title: "second", Labels: []string{"ui", "bug"}, Priority: &prio},
		{ID: "c1", Title: "first", Description: "desc", Author: "ann", Assignee: "bob", Deadline: &deadline},
	}
	b.Doing = []domain.Card{{
		ID:              "c3",
		Title:           "third",
		Posts:           []domain.Post{{ID: "p1", Author: "ann", Text: "héllo", CreatedAt: created, UpdatedAt: created}},
		CommentCount:    1,
		AttachmentCount: 2,
	}}
	b.Archived = []domain.Card{{ID: "c4", Title: "old"}}
	b.Version = 7
	b.UpdatedAt = created
	return b
}

// exerciseStore checks the contract every backend has to honour.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	want := sampleBoard()

	if _, err := s.Load(ctx, want.Key()); !errors.Is(err, domain.ErrBoardNotFound) {
		t.Fatalf("expected not found before create, got %v", err)
	}
	if err := s.Create(ctx, want); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, want); !errors.Is(err, domain.ErrBoardExists) {
		t.Fatalf("expected exists on second create, got %v", err)
	}
	got, err := s.Load(ctx, want.Key())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
	}

	got.Todo[0], got.Todo[1] = got.Todo[1], got.Todo[0]
	got.Done = append(got.Done, domain.Card{ID: "c5", Title: "new"})
	got.Version++
	if err := s.Save(ctx, got); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := s.Load(ctx, want.Key())
	if err != nil {
		t.Fatalf("load after save: %v", err)
	}
	if !reflect.DeepEqual(again, got) {
		t.Fatalf("saved board mismatch\n got: %+v\nwant: %+v", again, got)
	}
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	b := sampleBoard()
	if err := m.Create(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	loaded, _ := m.Load(ctx, b.Key())
	loaded.Todo[0].Title = "mutated"
	again, _ := m.Load(ctx, b.Key())
	if again.Todo[0].Title != "second" {
		t.Fatalf("memory store leaked internal state")
	}
}

func TestRedisStore(t *testing.T) {
	_, client := newMiniredis(t)
	exerciseStore(t, NewRedis(client))
}

func colonBoards() (domain.Board, domain.Board) {
	a := domain.NewBoard(domain.BoardKey{ProjectID: "a:b", BoardName: "c"})
	a.Todo = []domain.Card{{ID: "secret", Title: "A only"}}
	b := domain.NewBoard(domain.BoardKey{ProjectID: "a", BoardName: "b:c"})
	b.Doing = []domain.Card{{ID: "other", Title: "B only"}}
	return a, b
}

func TestColonKeysStayDistinct(t *testing.T) {
	if redisKey("board", domain.BoardKey{ProjectID: "a:b", BoardName: "c"}) == redisKey("board", domain.BoardKey{ProjectID: "a", BoardName: "b:c"}) {
		t.Fatal("keys with colons collide")
	}

	t.Run("redis", func(t *testing.T) {
		_, client := newMiniredis(t)
		s := NewRedis(client)
		ctx := context.Background()
		a, b := colonBoards()
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("create a: %v", err)
		}
		if err := s.Create(ctx, b); err != nil {
			t.Fatalf("create b: %v", err)
		}
		got, err := s.Load(ctx, b.Key())
		if err != nil {
			t.Fatalf("load b: %v", err)
		}
		if len(got.Todo) != 0 || len(got.Doing) != 1 || got.Doing[0].ID != "other" {
			t.Fatalf("loaded wrong board: %+v", got)
		}
	})

	t.Run("cache", func(t *testing.T) {
		_, client := newMiniredis(t)
		base := NewMemory()
		ctx := context.Background()
		a, b := colonBoards()
		_ = base.Create(ctx, a)
		_ = base.Create(ctx, b)
		cache := NewCache(base, client, time.Minute)
		if _, err := cache.Load(ctx, a.Key()); err != nil {
			t.Fatalf("load a: %v", err)
		}
		got, err := cache.Load(ctx, b.Key())
		if err != nil {
			t.Fatalf("load b: %v", err)
		}
		if len(got.Todo) != 0 || len(got.Doing) != 1 || got.Doing[0].ID != "other" {
			t.Fatalf("cache served wrong board: %+v", got)
		}
	})
}

func TestSQLStore(t *testing.T) {
	db, err := OpenSQL("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewSQL(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	exerciseStore(t, s)
}

func TestOpenSQLRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQL("postgres", "dsn"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestCacheStore(t *testing.T) {
	_, client := newMiniredis(t)
	exerciseStore(t, NewCache(NewMemory(), client, time.Minute))
}

type countingStore struct {
	*Memory
	loads   int
	saveErr error
}

func (c *countingStore) Load(ctx context.Context, key domain.BoardKey) (domain.Board, error) {
	c.loads++
	return c.Memory.Load(ctx, key)
}

func (c *countingStore) Save(ctx context.Context, b domain.Board) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.Memory.Save(ctx, b)
}

func TestCacheLoadMissThenHit(t *testing.T) {
	mr, client := newMiniredis(t)
	base := &countingStore{Memory: NewMemory()}
	b := sampleBoard()
	if err := base.Create(context.Background(), b); err != nil {
		t.Fatalf("create: %v", err)
	}
	cache := NewCache(base, client, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := cache.Load(context.Background(), b.Key())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !reflect.DeepEqual(got, b) {
			t.Fatalf("unexpected board %+v", got)
		}
	}
	if base.loads != 1 {
		t.Fatalf("expected 1 backend load, got %d", base.loads)
	}
	if ttl := mr.TTL(cacheKey(b.Key())); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheSaveFailureEvicts(t *testing.T) {
	mr, client := newMiniredis(t)
	base := &countingStore{Memory: NewMemory()}
	b := sampleBoard()
	_ = base.Create(context.Background(), b)
	cache := NewCache(base, client, time.Minute)
	if _, err := cache.Load(context.Background(), b.Key()); err != nil {
		t.Fatalf("load: %v", err)
	}

	base.saveErr = errors.New("disk full")
	b.Version++
	if err := cache.Save(context.Background(), b); err == nil {
		t.Fatal("expected save error")
	}
	if mr.Exists(cacheKey(b.Key())) {
		t.Fatal("expected cache entry to be evicted after failed save")
	}
}

func TestCacheIgnoresCorruptEntry(t *testing.T) {
	mr, client := newMiniredis(t)
	base := &countingStore{Memory: NewMemory()}
	b := sampleBoard()
	_ = base.Create(context.Background(), b)
	if err := mr.Set(cacheKey(b.Key()), "{not json"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	cache := NewCache(base, client, time.Minute)
	got, err := cache.Load(context.Background(), b.Key())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != b.Version || base.loads != 1 {
		t.Fatalf("expected fallback to base store, loads=%d", base.loads)
	}
}

func TestCacheDisabledWithZeroTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	base := &countingStore{Memory: NewMemory()}
	b := sampleBoard()
	_ = base.Create(context.Background(), b)
	cache := NewCache(base, client, 0)
	_, _ = cache.Load(context.Background(), b.Key())
	_, _ = cache.Load(context.Background(), b.Key())
	if base.loads != 2 || mr.Exists(cacheKey(b.Key())) {
		t.Fatalf("expected cache to be bypassed, loads=%d", base.loads)
	}
}

func TestBoardEntityRoundTrip(t *testing.T) {
	b := sampleBoard()
	b.BoardKey = domain.BoardKey{ProjectID: "team/alpha", BoardName: "Q1 #1?"}
	big := strings.Repeat("é", chunkBytes)
	b.Todo[0].Description = big

	payload, err := encodeBoardEntity(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]any
	if err := sonic.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	if raw["PartitionKey"] != "team%2Falpha" {
		t.Fatalf("partition key not escaped: %v", raw["PartitionKey"])
	}
	if raw["Chunks"].(float64) < 2 {
		t.Fatalf("expected board to be split, got %v chunks", raw["Chunks"])
	}
	for k, v := range raw {
		if s, ok := v.(string); ok && strings.HasPrefix(k, "Board") && len(s) > chunkBytes {
			t.Fatalf("chunk %s is %d bytes", k, len(s))
		}
	}
	got, err := decodeBoardEntity(b.Key(), payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, b) {
		t.Fatal("entity round trip mismatch")
	}
}

func TestSplitChunksKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("aé", 10)
	chunks := splitChunks(s, 4)
	if strings.Join(chunks, "") != s {
		t.Fatalf("chunks do not reassemble: %q", chunks)
	}
	for _, c := range chunks {
		if len(c) > 4 || !utf8.ValidString(c) {
			t.Fatalf("bad chunk %q", c)
		}
	}
}

func TestOpenAndPrepare(t *testing.T) {
	s, err := Open(Options{Backend: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := s.(*SQL).db.DB()
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	if err := Prepare(context.Background(), NewCache(s, nil, 0)); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	exerciseStore(t, s)

	if _, err := Open(Options{Backend: "redis"}); err == nil {
		t.Fatal("expected error for redis backend without client")
	}
	if _, err := Open(Options{Backend: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
