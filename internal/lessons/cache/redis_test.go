package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

func TestRedis_RoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()
	rdb, err := DialRedis(ctx, addr)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer rdb.Close()

	prefix := "lessons-test:" + uuid.NewString() + ":"
	c, err := NewRedis[lesson.Slide](logger.Nop(), rdb, prefix, time.Minute)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	key := SlideKey("photosynthesis", "biology", 7)
	in := lesson.Slide{Position: 7, Kind: lesson.KindQuestion, Title: "Quiz", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 2}
	if err := c.Set(ctx, key, in, 200*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(ctx, key)
	if !ok || got.CorrectIndex != 2 || len(got.Options) != 4 {
		t.Fatalf("Get=%+v ok=%v", got, ok)
	}
	if !c.Has(ctx, key) {
		t.Fatalf("Has=false")
	}
	if st := c.Stats(ctx); st.Size != 1 || st.Hits != 1 {
		t.Fatalf("stats=%+v", st)
	}
	time.Sleep(300 * time.Millisecond)
	if _, ok := c.Get(ctx, key); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestNewRedis_RequiresClient(t *testing.T) {
	if _, err := NewRedis[string](logger.Nop(), nil, "p:", 0); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
