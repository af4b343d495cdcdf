package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/cache"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/progressive"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/skeleton"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/slides"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

// CacheStats reports one named cache.
type CacheStats struct {
	Name  string
	Stats func(ctx context.Context) cache.Stats
}

type handler struct {
	log      *logger.Logger
	slides   *slides.Generator
	sessions *progressive.Manager
	caches   []CacheStats
}

func (h *handler) healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// POST /v1/lessons/skeleton
func (h *handler) createSkeleton(c *gin.Context) {
	var req skeletonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", err)
		return
	}
	sk, err := skeleton.Build(req.Topic, req.Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skeleton": sk})
}

// POST /v1/lessons/slides
func (h *handler) generateSlide(c *gin.Context) {
	var req slideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", err)
		return
	}
	previous := make([]lesson.Slide, 0, len(req.PreviousSlides))
	for _, w := range req.PreviousSlides {
		s, err := w.toSlide()
		if err != nil {
			badRequest(c, "previous_slides", err)
			return
		}
		previous = append(previous, s)
	}
	sort.SliceStable(previous, func(i, j int) bool { return previous[i].Position < previous[j].Position })

	s, err := h.slides.Generate(c.Request.Context(), slides.Input{
		Index:    req.Index,
		Topic:    req.Topic,
		Subject:  req.Subject,
		Previous: previous,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slide": newSlideResponse(s)})
}

// POST /v1/sessions
func (h *handler) startSession(c *gin.Context) {
	var req skeletonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", err)
		return
	}
	snap, err := h.sessions.Start(c.Request.Context(), req.Topic, req.Subject)
	if err != nil {
		status, body := statusFor(err)
		body.SessionID = snap.ID
		writeErrorBody(c, status, body)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": snap})
}

// GET /v1/sessions/:id
func (h *handler) getSession(c *gin.Context) {
	snap, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snap})
}

// POST /v1/sessions/:id/next
func (h *handler) loadNext(c *gin.Context) {
	var req nextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "current_index", err)
		return
	}
	id := c.Param("id")
	res, err := h.sessions.LoadNext(c.Request.Context(), id, req.CurrentIndex)
	if err != nil {
		status, body := statusFor(err)
		body.SessionID = id
		writeErrorBody(c, status, body)
		return
	}
	out := gin.H{"index": res.Index, "status": res.Status}
	if res.Slide != nil {
		out["slide"] = newSlideResponse(*res.Slide)
	}
	if snap, err := h.sessions.Get(id); err == nil {
		out["session"] = gin.H{
			"state":      snap.State,
			"loaded":     snap.Loaded,
			"total":      snap.Total,
			"percent":    snap.Percent,
			"generating": snap.Generating,
		}
	}
	status := http.StatusOK
	if res.Status == progressive.LoadInFlight {
		status = http.StatusAccepted
	}
	c.JSON(status, out)
}

// GET /v1/sessions/:id/metrics
func (h *handler) sessionMetrics(c *gin.Context) {
	m, err := h.sessions.Metrics(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": m})
}

// GET /v1/sessions/:id/record
func (h *handler) sessionRecord(c *gin.Context) {
	rec, err := h.sessions.Record(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

// DELETE /v1/sessions/:id
func (h *handler) closeSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		if errors.Is(err, progressive.ErrSessionNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /v1/cache/stats
func (h *handler) cacheStats(c *gin.Context) {
	out := make(map[string]cache.Stats, len(h.caches))
	for _, cs := range h.caches {
		out[cs.Name] = cs.Stats(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{"caches": out})
}

// GET /v1/backends
func (h *handler) listBackends(c *gin.Context) {
	ds := h.slides.Providers()
	out := make([]engine.Descriptor, len(ds))
	copy(out, ds)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	c.JSON(http.StatusOK, gin.H{"backends": out})
}
