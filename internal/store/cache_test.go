package store

import (
	"context"
	"net/http"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rowanhq/backstop/internal/cache"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testResponse(body string) *cache.Response {
	return &cache.Response{
		Status:   200,
		Header:   http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:     []byte(body),
		StoredAt: time.UnixMilli(1700000000000),
	}
}

func TestGetEntry_Miss(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	resp, ok, err := s.GetEntry(ctx, "gen-v1", "GET https://news.example/")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if ok {
		t.Error("expected miss on empty store")
	}
	if resp != nil {
		t.Error("expected nil response on miss")
	}
}

func TestPutEntry_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "GET https://news.example/story/1"

	want := testResponse("<html>story</html>")
	if err := s.PutEntry(ctx, "gen-v1", key, "https://news.example/story/1", want); err != nil {
		t.Fatalf("PutEntry() failed: %v", err)
	}

	got, ok, err := s.GetEntry(ctx, "gen-v1", key)
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.Status != want.Status {
		t.Errorf("status = %d, want %d", got.Status, want.Status)
	}
	if string(got.Body) != string(want.Body) {
		t.Errorf("body = %q, want %q", got.Body, want.Body)
	}
	if !reflect.DeepEqual(got.Header, want.Header) {
		t.Errorf("header = %v, want %v", got.Header, want.Header)
	}
	if !got.StoredAt.Equal(want.StoredAt) {
		t.Errorf("storedAt = %v, want %v", got.StoredAt, want.StoredAt)
	}
}

func TestPutEntry_LastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "GET https://news.example/"

	if err := s.PutEntry(ctx, "gen-v1", key, "https://news.example/", testResponse("old")); err != nil {
		t.Fatalf("first PutEntry() failed: %v", err)
	}
	if err := s.PutEntry(ctx, "gen-v1", key, "https://news.example/", testResponse("new")); err != nil {
		t.Fatalf("second PutEntry() failed: %v", err)
	}

	got, ok, err := s.GetEntry(ctx, "gen-v1", key)
	if err != nil || !ok {
		t.Fatalf("GetEntry() = ok=%v err=%v", ok, err)
	}
	if string(got.Body) != "new" {
		t.Errorf("body = %q, want %q", got.Body, "new")
	}
}

func TestGetEntry_GenerationsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "GET https://news.example/"

	if err := s.PutEntry(ctx, "gen-v1", key, "https://news.example/", testResponse("v1")); err != nil {
		t.Fatalf("PutEntry() failed: %v", err)
	}

	_, ok, err := s.GetEntry(ctx, "gen-v2", key)
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if ok {
		t.Error("entry leaked across generations")
	}
}

func TestGetEntry_CorruptHeadersIsMiss(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "GET https://news.example/"

	if err := s.PutEntry(ctx, "gen-v1", key, "https://news.example/", testResponse("x")); err != nil {
		t.Fatalf("PutEntry() failed: %v", err)
	}
	if _, err := s.db.Exec(
		"UPDATE cache_entries SET headers = 'not json' WHERE generation = 'gen-v1'",
	); err != nil {
		t.Fatalf("corrupt headers: %v", err)
	}

	_, ok, err := s.GetEntry(ctx, "gen-v1", key)
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if ok {
		t.Error("corrupt entry should be reported as a miss")
	}
}

func TestGenerations_PrefixFilterAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []string{"backstop-v2", "backstop-v1", "other-v1"}
	for _, gen := range seed {
		if err := s.PutEntry(ctx, gen, "GET https://news.example/", "https://news.example/", testResponse("x")); err != nil {
			t.Fatalf("PutEntry(%s) failed: %v", gen, err)
		}
	}

	got, err := s.Generations(ctx, "backstop-")
	if err != nil {
		t.Fatalf("Generations() failed: %v", err)
	}
	want := []string{"backstop-v1", "backstop-v2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Generations() = %v, want %v", got, want)
	}
}

func TestGenerations_EmptyIsNotNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Generations(context.Background(), "backstop-")
	if err != nil {
		t.Fatalf("Generations() failed: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, got nil")
	}
	if len(got) != 0 {
		t.Errorf("expected no generations, got %v", got)
	}
}

func TestDeleteGeneration_RemovesAllEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keys := []string{"GET https://news.example/", "GET https://news.example/story/1"}
	for _, key := range keys {
		if err := s.PutEntry(ctx, "gen-v1", key, "", testResponse("x")); err != nil {
			t.Fatalf("PutEntry() failed: %v", err)
		}
	}

	if err := s.DeleteGeneration(ctx, "gen-v1"); err != nil {
		t.Fatalf("DeleteGeneration() failed: %v", err)
	}
	for _, key := range keys {
		_, ok, err := s.GetEntry(ctx, "gen-v1", key)
		if err != nil {
			t.Fatalf("GetEntry() failed: %v", err)
		}
		if ok {
			t.Errorf("entry %q survived generation delete", key)
		}
	}
}

func TestDeleteGeneration_MissingIsNoop(t *testing.T) {
	s := openTestStore(t)

	if err := s.DeleteGeneration(context.Background(), "never-existed"); err != nil {
		t.Errorf("DeleteGeneration() on missing generation: %v", err)
	}
}
