package progressive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/cache"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/estimator"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/skeleton"
	"github.com/yungbote/neurobridge-lessons/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

// LessonStore persists finished lessons. Implementations must be safe for concurrent use.
type LessonStore interface {
	Save(ctx context.Context, rec lesson.Record) error
	FindByTopic(ctx context.Context, topic, subject string) (lesson.Record, bool, error)
}

type ManagerRecorder interface {
	Recorder
	SetActiveSessions(n int)
}

type ManagerOptions struct {
	LessonTTL time.Duration
	MinTokens int
}

type Manager struct {
	log     *logger.Logger
	gen     SlideGenerator
	rec     ManagerRecorder
	lessons cache.Store[lesson.Record]
	store   LessonStore
	opts    ManagerOptions

	mu       sync.RWMutex
	sessions map[string]*Coordinator
}

func NewManager(log *logger.Logger, gen SlideGenerator, lessons cache.Store[lesson.Record], store LessonStore, rec ManagerRecorder, opts ManagerOptions) (*Manager, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	if gen == nil {
		return nil, errors.New("slide generator required")
	}
	if lessons == nil {
		return nil, errors.New("lesson cache required")
	}
	if opts.LessonTTL <= 0 {
		opts.LessonTTL = cache.DefaultLessonTTL
	}
	return &Manager{
		log:      log.With("service", "SessionManager"),
		gen:      gen,
		rec:      rec,
		lessons:  lessons,
		store:    store,
		opts:     opts,
		sessions: map[string]*Coordinator{},
	}, nil
}

// Start opens a session for topic/subject. A finished lesson found in the lesson cache or the
// store is resumed without contacting any backend; otherwise a new skeleton is built and
// slide 1 is generated before returning.
func (m *Manager) Start(ctx context.Context, topic, subject string) (Snapshot, error) {
	topic, err := skeleton.ValidateTopic(topic)
	if err != nil {
		return Snapshot{}, err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = topic
	}

	if sk, ok := m.hydrate(ctx, topic, subject); ok {
		m.mu.Lock()
		c, exists := m.sessions[sk.ID]
		if !exists {
			c = Resume(m.log, m.gen, m.rec, sk)
			m.sessions[sk.ID] = c
		}
		n := len(m.sessions)
		m.mu.Unlock()
		m.setActive(n)
		m.log.Info("lesson resumed", "lesson_id", sk.ID, "topic", topic)
		return c.Snapshot(), nil
	}

	c := NewCoordinator(m.log, m.gen, m.rec, topic, subject)
	snap, err := c.Start(ctx)
	if snap.ID == "" {
		return snap, err
	}
	// register even on failure so the caller can retry slide 1 through LoadNext
	m.mu.Lock()
	m.sessions[snap.ID] = c
	n := len(m.sessions)
	m.mu.Unlock()
	m.setActive(n)
	return snap, err
}

func (m *Manager) hydrate(ctx context.Context, topic, subject string) (lesson.Skeleton, bool) {
	log := m.log.With(ctxutil.LogFields(ctx)...)
	key := cache.LessonKey(topic, subject)
	rec, ok := m.lessons.Get(ctx, key)
	if !ok && m.store != nil {
		found, hit, err := m.store.FindByTopic(ctx, topic, subject)
		if err != nil {
			log.Warn("lesson store lookup failed", "topic", topic, "error", err)
		}
		if hit {
			rec, ok = found, true
			if fallbackCards(rec) == 0 {
				if err := m.lessons.Set(ctx, key, rec, m.opts.LessonTTL); err != nil {
					log.Warn("lesson cache write failed", "key", key, "error", err)
				}
			}
		}
	}
	if !ok {
		return lesson.Skeleton{}, false
	}
	sk, err := lesson.FromRecord(rec)
	if err != nil {
		log.Warn("discarding unreadable lesson record", "key", key, "error", err)
		m.lessons.Delete(ctx, key)
		return lesson.Skeleton{}, false
	}
	return sk, true
}

func (m *Manager) Coordinator(id string) (*Coordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

func (m *Manager) Get(id string) (Snapshot, error) {
	c, err := m.Coordinator(id)
	if err != nil {
		return Snapshot{}, err
	}
	c.touch()
	return c.Snapshot(), nil
}

func (m *Manager) LoadNext(ctx context.Context, id string, currentIndex int) (LoadResult, error) {
	c, err := m.Coordinator(id)
	if err != nil {
		return LoadResult{}, err
	}
	res, err := c.LoadNext(ctx, currentIndex)
	if err == nil && c.markPersisted() {
		m.persist(ctx, c)
	}
	return res, err
}

func (m *Manager) Metrics(id string) (estimator.PacingMetrics, error) {
	c, err := m.Coordinator(id)
	if err != nil {
		return estimator.PacingMetrics{}, err
	}
	return c.Metrics(estimator.Options{MinTokens: m.opts.MinTokens}), nil
}

func (m *Manager) Record(id string) (lesson.Record, error) {
	c, err := m.Coordinator(id)
	if err != nil {
		return lesson.Record{}, err
	}
	return c.Record(), nil
}

// persist writes a finished lesson to the store, and to the lesson cache when no stage is a
// fallback slide. Failures are logged; the session itself stays usable.
func (m *Manager) persist(ctx context.Context, c *Coordinator) {
	rec := c.Record()
	log := m.log.With(ctxutil.LogFields(ctx)...).With("lesson_id", rec.ID)
	key := cache.LessonKey(rec.Title, rec.Subject)
	if degraded := fallbackCards(rec); degraded > 0 {
		m.lessons.Delete(ctx, key)
		log.Info("lesson complete with fallback slides; not caching", "fallbacks", degraded)
	} else if err := m.lessons.Set(ctx, key, rec, m.opts.LessonTTL); err != nil {
		log.Warn("lesson cache write failed", "key", key, "error", err)
	}
	if m.store != nil {
		if err := m.store.Save(ctx, rec); err != nil {
			log.Error("lesson store write failed", "error", err)
			return
		}
	}
	log.Info("lesson complete")
}

func fallbackCards(rec lesson.Record) int {
	n := 0
	for _, card := range rec.Cards {
		if card.Fallback {
			n++
		}
	}
	return n
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	c, ok := m.sessions[strings.TrimSpace(id)]
	if ok {
		delete(m.sessions, strings.TrimSpace(id))
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	c.Close()
	m.setActive(n)
	return nil
}

// Sweep closes sessions idle for longer than idle. Sessions with a generation in flight are kept.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	var stale []*Coordinator

	m.mu.Lock()
	for id, c := range m.sessions {
		last, sweepable := c.idleSince()
		if sweepable && last.Before(cutoff) {
			stale = append(stale, c)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
	m.setActive(n)
	if len(stale) > 0 {
		m.log.Info("idle lesson sessions swept", "count", len(stale), "active", n)
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 || idle <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil
		case <-t.C:
			m.Sweep(idle)
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = map[string]*Coordinator{}
	m.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
	m.setActive(0)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) setActive(n int) {
	if m.rec != nil {
		m.rec.SetActiveSessions(n)
	}
}
