package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/prodscrape/models"
	"github.com/use-agent/prodscrape/webhook"
)

// batchJob tracks an in-progress batch. Results are written by the workers
// under mu and read through snapshot.
type batchJob struct {
	mu        sync.Mutex
	id        string
	status    string
	total     int
	completed int
	results   []*models.ScrapeResponse
	createdAt time.Time
}

func (j *batchJob) setResult(idx int, resp *models.ScrapeResponse) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[idx] = resp
	j.completed++
}

// finish sets the final status from the per-URL outcomes.
func (j *batchJob) finish() (failed int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, r := range j.results {
		if r == nil || !r.Success {
			failed++
		}
	}
	switch {
	case failed == j.total:
		j.status = models.BatchFailed
	case failed > 0:
		j.status = models.BatchPartial
	default:
		j.status = models.BatchCompleted
	}
	return failed
}

func (j *batchJob) snapshot() models.BatchStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return models.BatchStatusResponse{
		ID:        j.id,
		Status:    j.status,
		Completed: j.completed,
		Total:     j.total,
		Results:   append([]*models.ScrapeResponse(nil), j.results...),
	}
}

// Batches runs batch scrapes in the background and keeps their status for
// polling. Finished jobs expire after the retention period.
type Batches struct {
	deps        Deps
	notifier    *webhook.Notifier
	concurrency int
	retention   time.Duration

	jobs sync.Map // id -> *batchJob
	done chan struct{}
	once sync.Once
}

// NewBatches creates a batch runner. concurrency bounds simultaneous
// scrapes per job.
func NewBatches(d Deps, notifier *webhook.Notifier, concurrency int) *Batches {
	if concurrency <= 0 {
		concurrency = 5
	}
	b := &Batches{
		deps:        d,
		notifier:    notifier,
		concurrency: concurrency,
		retention:   time.Hour,
		done:        make(chan struct{}),
	}
	go b.cleanupLoop(5 * time.Minute)
	return b
}

// Close stops the cleanup goroutine.
func (b *Batches) Close() {
	b.once.Do(func() { close(b.done) })
}

func (b *Batches) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-b.retention)
			b.jobs.Range(func(key, value any) bool {
				if value.(*batchJob).createdAt.Before(cutoff) {
					b.jobs.Delete(key)
				}
				return true
			})
		}
	}
}

// Post returns a handler for POST /api/v1/batch/scrape.
func (b *Batches) Post() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidRequest,
					Message: err.Error(),
				},
			})
			return
		}
		if req.Timeout == 0 {
			req.Timeout = b.deps.DefaultTimeout.Seconds()
		}

		job := &batchJob{
			id:        "batch-" + uuid.NewString(),
			status:    models.BatchProcessing,
			total:     len(req.URLs),
			results:   make([]*models.ScrapeResponse, len(req.URLs)),
			createdAt: time.Now(),
		}
		b.jobs.Store(job.id, job)

		go b.run(job, req)

		c.JSON(http.StatusAccepted, models.BatchResponse{
			ID:     job.id,
			Status: models.BatchProcessing,
			Total:  job.total,
		})
	}
}

// Get returns a handler for GET /api/v1/batch/:id.
func (b *Batches) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := b.jobs.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeNotFound,
					Message: "batch job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*batchJob).snapshot())
	}
}

// run scrapes every URL of the job with bounded concurrency. A failed URL
// never stops the others.
func (b *Batches) run(job *batchJob, req models.BatchRequest) {
	b.deps.Metrics.BatchStarted()
	defer b.deps.Metrics.BatchFinished()

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, rawURL := range req.URLs {
		g.Go(func() error {
			start := time.Now()
			resp, _ := scrapeOne(context.Background(), b.deps, rawURL, req.Timeout)
			resp.Timing.TotalMs = time.Since(start).Milliseconds()
			job.setResult(i, resp)
			return nil
		})
	}
	_ = g.Wait()

	failed := job.finish()
	snap := job.snapshot()
	slog.Info("batch job finished",
		"id", job.id,
		"status", snap.Status,
		"failed", failed,
		"total", job.total,
	)

	if req.WebhookURL != "" && b.notifier != nil {
		b.notifier.DeliverAsync(req.WebhookURL, req.WebhookSecret, &webhook.Event{
			Type:      "batch.completed",
			JobID:     job.id,
			Timestamp: time.Now().Unix(),
			Data:      snap,
		})
	}
}
