// Package progressive drives one lesson from skeleton to completion, one slide at a time,
// and keeps the registry of live lesson sessions.
package progressive

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/estimator"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/skeleton"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/slides"
	"github.com/yungbote/neurobridge-lessons/internal/platform/apierr"
	"github.com/yungbote/neurobridge-lessons/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

type SlideGenerator interface {
	Generate(ctx context.Context, in slides.Input) (lesson.Slide, error)
}

type Recorder interface {
	IncSessionTransition(from, to string)
}

type LoadStatus string

const (
	LoadGenerated LoadStatus = "generated"
	LoadExisting  LoadStatus = "existing"
	LoadInFlight  LoadStatus = "in_flight"
	LoadPastEnd   LoadStatus = "past_end"
)

type LoadResult struct {
	Index  int           `json:"index"`
	Status LoadStatus    `json:"status"`
	Slide  *lesson.Slide `json:"slide,omitempty"`
}

type Snapshot struct {
	ID         string          `json:"id"`
	State      State           `json:"state"`
	CanStart   bool            `json:"can_start"`
	Loaded     int             `json:"loaded"`
	Total      int             `json:"total"`
	Percent    float64         `json:"percent"`
	Generating bool            `json:"generating"`
	LastError  string          `json:"last_error,omitempty"`
	Skeleton   lesson.Skeleton `json:"skeleton"`
}

// Coordinator owns one lesson session. At most one slide generation is in flight at a time,
// and slide N+1 is only requested once slide N exists.
type Coordinator struct {
	log *logger.Logger
	gen SlideGenerator
	rec Recorder

	topic   string
	subject string

	// done is canceled by Close and aborts any in-flight generation.
	done   context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	sk         lesson.Skeleton
	canStart   bool
	generating bool
	lastErr    string
	closed     bool
	persisted  bool
	lastActive time.Time
}

func NewCoordinator(log *logger.Logger, gen SlideGenerator, rec Recorder, topic, subject string) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	done, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		log:        log.With("service", "ProgressiveCoordinator"),
		gen:        gen,
		rec:        rec,
		topic:      topic,
		subject:    subject,
		done:       done,
		cancel:     cancel,
		state:      StateIdle,
		lastActive: time.Now(),
	}
}

// Resume rebuilds a coordinator around a previously generated skeleton. Fallback stages are
// reset to placeholders so LoadNext generates them again. The state is derived from how many
// stages are loaded in order.
func Resume(log *logger.Logger, gen SlideGenerator, rec Recorder, sk lesson.Skeleton) *Coordinator {
	c := NewCoordinator(log, gen, rec, sk.Title, sk.Subject)
	c.sk = sk.Clone()
	for i, st := range c.sk.Stages {
		if st.Loaded && st.Fallback {
			c.sk.Stages[i] = lesson.Stage{Slide: placeholder(st.Position)}
			c.sk.Status = lesson.StatusLoading
		}
	}
	loaded := len(c.sk.Loaded())
	switch {
	case loaded == lesson.TotalSlides:
		c.state = StateComplete
		c.persisted = true
	case loaded > 1:
		c.state = StateProgressing
	case loaded == 1:
		c.state = StateFirstSlideReady
	default:
		c.state = StateSkeletonReady
	}
	c.canStart = loaded > 0
	return c
}

func placeholder(position int) lesson.Slide {
	kind := lesson.KindAt(position)
	return lesson.Slide{
		Position:         position,
		Kind:             kind,
		Title:            skeleton.Title(position),
		Content:          lesson.PlaceholderContent,
		EstimatedMinutes: skeleton.Minutes(kind),
	}
}

// Start builds the skeleton and eagerly generates slide 1 only. On a generation failure the
// skeleton is kept and the session moves to Error; LoadNext(ctx, 0) retries slide 1.
func (c *Coordinator) Start(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.state != StateIdle {
		from := c.state
		c.mu.Unlock()
		return c.Snapshot(), checkTransition(from, StateSkeletonReady)
	}
	sk, err := skeleton.Build(c.topic, c.subject)
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	c.sk = sk
	c.topic, c.subject = sk.Title, sk.Subject
	if err := c.transitionLocked(StateSkeletonReady); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	c.mu.Unlock()

	c.log.Debug("skeleton ready", "lesson_id", sk.ID, "topic", sk.Title)
	_, err = c.load(ctx, 1)
	return c.Snapshot(), err
}

// LoadNext generates the slide after currentIndex. An index past the last slide is a no-op,
// an already loaded slide is returned as-is, and a call that arrives while another generation
// is running reports LoadInFlight without starting a second one.
func (c *Coordinator) LoadNext(ctx context.Context, currentIndex int) (LoadResult, error) {
	next := currentIndex + 1
	if next < 1 {
		return LoadResult{}, apierr.Invalid("current_index", "current index %d is negative", currentIndex)
	}
	if next > lesson.TotalSlides {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch {
		case c.closed:
			return LoadResult{}, ErrClosed
		case c.state == StateIdle:
			return LoadResult{}, ErrNotStarted
		}
		c.lastActive = time.Now()
		return LoadResult{Index: next, Status: LoadPastEnd}, nil
	}
	return c.load(ctx, next)
}

func (c *Coordinator) load(ctx context.Context, index int) (LoadResult, error) {
	c.mu.Lock()
	c.lastActive = time.Now()
	switch {
	case c.closed:
		c.mu.Unlock()
		return LoadResult{}, ErrClosed
	case c.state == StateIdle:
		c.mu.Unlock()
		return LoadResult{}, ErrNotStarted
	case c.generating:
		c.mu.Unlock()
		return LoadResult{Index: index, Status: LoadInFlight}, nil
	}
	if st := c.sk.Stages[index-1]; st.Loaded {
		s := st.Slide.Clone()
		c.mu.Unlock()
		return LoadResult{Index: index, Status: LoadExisting, Slide: &s}, nil
	}
	if index > 1 && !c.sk.Stages[index-2].Loaded {
		c.mu.Unlock()
		return LoadResult{}, apierr.New(http.StatusConflict, "out_of_order", ErrOutOfOrder)
	}
	c.generating = true
	in := slides.Input{
		Index:    index,
		Topic:    c.sk.Title,
		Subject:  c.sk.Subject,
		Previous: c.sk.Loaded(),
	}
	lessonID := c.sk.ID
	c.mu.Unlock()

	gctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.done, cancel)
	td := ctxutil.TraceData{LessonID: lessonID}
	if cur := ctxutil.GetTraceData(ctx); cur != nil {
		td = *cur
		td.LessonID = lessonID
	}
	gctx = ctxutil.WithTraceData(gctx, &td)
	slide, err := c.gen.Generate(gctx, in)
	stop()
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generating = false
	c.lastActive = time.Now()
	if c.closed {
		return LoadResult{}, ErrClosed
	}
	if err != nil {
		c.lastErr = err.Error()
		if terr := c.transitionLocked(StateError); terr != nil {
			c.log.Warn("state transition rejected", "lesson_id", lessonID, "error", terr)
		}
		c.log.Warn("slide generation failed", "lesson_id", lessonID, "index", index, "error", err)
		return LoadResult{Index: index}, err
	}

	c.sk.Fill(slide)
	c.lastErr = ""
	if index == 1 {
		c.canStart = true
		if err := c.transitionLocked(StateFirstSlideReady); err != nil {
			return LoadResult{Index: index}, err
		}
	}
	target := StateProgressing
	if c.sk.Status == lesson.StatusReady {
		target = StateComplete
	}
	if index > 1 || target == StateComplete {
		if err := c.advanceLocked(target); err != nil {
			return LoadResult{Index: index}, err
		}
	}
	s := slide.Clone()
	return LoadResult{Index: index, Status: LoadGenerated, Slide: &s}, nil
}

// advanceLocked moves forward to target, passing through Progressing when the direct edge
// does not exist. A resumed lesson whose holes were filled can complete from FirstSlideReady.
func (c *Coordinator) advanceLocked(target State) error {
	if target == StateComplete && !canTransition(c.state, target) && canTransition(c.state, StateProgressing) {
		if err := c.transitionLocked(StateProgressing); err != nil {
			return err
		}
	}
	return c.transitionLocked(target)
}

func (c *Coordinator) transitionLocked(to State) error {
	from := c.state
	if err := checkTransition(from, to); err != nil {
		return err
	}
	c.state = to
	if from != to && c.rec != nil {
		c.rec.IncSessionTransition(string(from), string(to))
	}
	return nil
}

// Close cancels any in-flight generation. Calling it more than once is harmless.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	loaded := 0
	for _, st := range c.sk.Stages {
		if st.Loaded {
			loaded++
		}
	}
	return Snapshot{
		ID:         c.sk.ID,
		State:      c.state,
		CanStart:   c.canStart,
		Loaded:     loaded,
		Total:      lesson.TotalSlides,
		Percent:    math.Round(float64(loaded)/float64(lesson.TotalSlides)*1000) / 10,
		Generating: c.generating,
		LastError:  c.lastErr,
		Skeleton:   c.sk.Clone(),
	}
}

// Metrics runs the estimator over every stage, placeholders included.
func (c *Coordinator) Metrics(opts estimator.Options) estimator.PacingMetrics {
	c.mu.Lock()
	all := make([]lesson.Slide, 0, len(c.sk.Stages))
	for _, st := range c.sk.Stages {
		all = append(all, st.Slide.Clone())
	}
	c.mu.Unlock()
	return estimator.Compute(all, opts)
}

func (c *Coordinator) Record() lesson.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lesson.ToRecord(c.sk)
}

func (c *Coordinator) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sk.ID
}

func (c *Coordinator) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// idleSince reports when the session was last used, and whether it is safe to sweep.
func (c *Coordinator) idleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive, !c.generating
}

// markPersisted returns true the first time it is called on a complete session.
func (c *Coordinator) markPersisted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateComplete || c.persisted {
		return false
	}
	c.persisted = true
	return true
}
