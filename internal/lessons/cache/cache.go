// Package cache keeps generated slides and whole lessons so repeated or resumed requests skip
// the backends. Two implementations share the Store contract: an in-process TTL+LRU map and a
// Redis-backed store shared between replicas.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Default TTLs per payload class. Whole lessons live longer than individual slides.
const (
	DefaultLessonTTL = 30 * time.Minute
	DefaultSlideTTL  = 10 * time.Minute
	DefaultCapacity  = 1000
)

type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Set(ctx context.Context, key string, v T, ttl time.Duration) error
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string)
	Stats(ctx context.Context) Stats
}

type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// cloner lets payloads hand out deep copies so cached values are never shared with callers.
type cloner[T any] interface {
	Clone() T
}

func cloneValue[T any](v T) T {
	if c, ok := any(v).(cloner[T]); ok {
		return c.Clone()
	}
	return v
}

// SlideKey addresses one generated slide. Identical topic/subject/index requests collide on purpose.
func SlideKey(topic, subject string, index int) string {
	return fmt.Sprintf("slide:%s:%s:%d", normalize(topic), normalize(subject), index)
}

// LessonKey addresses a whole lesson record.
func LessonKey(topic, subject string) string {
	return fmt.Sprintf("lesson:%s:%s", normalize(topic), normalize(subject))
}

// normalize lowercases and trims, collapsing every run of non-alphanumerics into one "_".
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}
