// Package orchestrator turns processing requests into queued work: it
// resolves configurations, selects the chunks a job needs, persists the
// job, and enqueues one work item per chunk. It also folds worker
// status callbacks back into job state and ingests result archives.
package orchestrator

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mvreeden/gridsim/internal/catalog"
	"github.com/mvreeden/gridsim/internal/configkey"
	"github.com/mvreeden/gridsim/internal/geo"
	"github.com/mvreeden/gridsim/internal/models"
	"github.com/mvreeden/gridsim/internal/observability"
	"github.com/mvreeden/gridsim/internal/queue"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"gorm.io/gorm"
)

// Orchestrator owns the job lifecycle. BaseURL is the externally
// reachable callback base carried in every work item.
type Orchestrator struct {
	DB      *gorm.DB
	Queue   queue.Queue
	BaseURL string
	DataDir string
	Clock   clockwork.Clock
	Logger  *log.Logger
	Metrics *observability.Metrics
}

func (o *Orchestrator) clock() clockwork.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clockwork.NewRealClock()
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// Configure resolves overrides against the named model and returns the
// matching configuration, creating it on first use.
func (o *Orchestrator) Configure(modelName string, overrides map[string]any) (*models.ModelConfiguration, error) {
	var model models.SimModel
	if err := o.DB.Where("name = ?", modelName).First(&model).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: model %q: %w", modelName, err)
	}
	return configkey.Configure(o.DB, &model, overrides, o.clock().Now())
}

// Prognosis describes what a job for this configuration and area would
// do: how many chunks are already complete from earlier runs and how
// many would be computed, before committing to anything.
type Prognosis struct {
	Discretization string `json:"discretization"`
	TotalChunks    int    `json:"totalChunks"`
	CachedChunks   int    `json:"cachedChunks"`
	ToCompute      int    `json:"toCompute"`
	MaxChunks      int    `json:"maxChunks"`
	Truncated      bool   `json:"truncated"`
}

// Prognose reports the cache situation for a configuration and area.
func (o *Orchestrator) Prognose(config *models.ModelConfiguration, area orb.Polygon) (*Prognosis, error) {
	model, err := o.modelOf(config)
	if err != nil {
		return nil, err
	}

	done, err := o.completeChunkIDs(config.ID)
	if err != nil {
		return nil, err
	}
	all, err := catalog.FindChunks(o.DB, model.DiscretizationName, area, nil, 0)
	if err != nil {
		return nil, err
	}
	remaining, err := catalog.FindChunks(o.DB, model.DiscretizationName, area, done, 0)
	if err != nil {
		return nil, err
	}

	toCompute := len(remaining)
	truncated := false
	if model.MaxChunks > 0 && toCompute > model.MaxChunks {
		toCompute = model.MaxChunks
		truncated = true
	}
	return &Prognosis{
		Discretization: model.DiscretizationName,
		TotalChunks:    len(all),
		CachedChunks:   len(all) - len(remaining),
		ToCompute:      toCompute,
		MaxChunks:      model.MaxChunks,
		Truncated:      truncated,
	}, nil
}

// CreateJob accepts a processing request. It refuses when the queue is
// unhealthy or when no unprocessed chunk intersects the area; both are
// caller-facing rejections, never silent partial success. The job and
// its chunks are persisted before anything is enqueued, so a crash
// between persist and enqueue leaves a recoverable PENDING trail.
func (o *Orchestrator) CreateJob(config *models.ModelConfiguration, area orb.Polygon, requester string) (*models.Job, error) {
	stats, err := o.Queue.Stats()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: queue unreachable: %w", err)
	}
	if o.Metrics != nil {
		o.Metrics.QueueReady.Set(float64(stats.Ready))
		o.Metrics.QueueWatchers.Set(float64(stats.Watchers))
	}
	if !stats.Connected {
		return nil, fmt.Errorf("orchestrator: queue not connected")
	}
	if stats.Watchers < 1 {
		return nil, fmt.Errorf("orchestrator: no workers watching the queue")
	}

	model, err := o.modelOf(config)
	if err != nil {
		return nil, err
	}

	done, err := o.completeChunkIDs(config.ID)
	if err != nil {
		return nil, err
	}
	chunks, err := catalog.FindChunks(o.DB, model.DiscretizationName, area, done, model.MaxChunks)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("orchestrator: no unprocessed chunks intersect the area")
	}

	job := models.Job{
		UUID:                 uuid.NewString(),
		Requester:            requester,
		ModelConfigurationID: config.ID,
		AreaWKT:              wkt.MarshalString(area),
		StatusCode:           models.StatusPending,
		StatusMessage:        "PROCESSING",
	}
	for _, ch := range chunks {
		job.JobChunks = append(job.JobChunks, models.JobChunk{
			UUID:    uuid.NewString(),
			ChunkID: ch.ID,
		})
	}
	if err := o.DB.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: persist job: %w", err)
	}
	if o.Metrics != nil {
		o.Metrics.JobsCreated.Inc()
	}

	for i := range job.JobChunks {
		if err := o.enqueueChunk(model, config, &job.JobChunks[i], &chunks[i]); err != nil {
			// The chunk stays PENDING without EnqueuedAt; the requeue
			// sweep picks it up.
			o.logf("enqueue chunk %s: %v", job.JobChunks[i].UUID, err)
		}
	}
	return &job, nil
}

// enqueueChunk builds and enqueues the work item for one job chunk.
func (o *Orchestrator) enqueueChunk(model *models.SimModel, config *models.ModelConfiguration, jc *models.JobChunk, chunk *models.Chunk) error {
	polygon, err := wkt.UnmarshalPolygon(chunk.GeomWKT)
	if err != nil {
		return fmt.Errorf("orchestrator: chunk %s geometry: %w", chunk.UUID, err)
	}
	var disc models.Discretization
	if err := o.DB.First(&disc, chunk.DiscretizationID).Error; err != nil {
		return fmt.Errorf("orchestrator: discretization of chunk %s: %w", chunk.UUID, err)
	}
	grid, err := geo.DeriveGrid(polygon, disc.Name, disc.CellSize, chunk.UUID)
	if err != nil {
		return fmt.Errorf("orchestrator: grid for chunk %s: %w", chunk.UUID, err)
	}

	params, err := configkey.DeclaredParams(config.ParametersJSON)
	if err != nil {
		return fmt.Errorf("orchestrator: configuration %s parameters: %w", config.Key, err)
	}
	spec, err := configkey.ParseTimeSpec(model.TimeJSON)
	if err != nil {
		return fmt.Errorf("orchestrator: model %q time section: %w", model.Name, err)
	}
	// Wire-only extra: workers need the step length to place timesteps
	// on the time axis, but it is not part of the configuration key.
	params["__timesteplength__"] = int64(spec.TimestepLength)

	item := queue.WorkItem{
		WorkItemID:       jc.UUID,
		ChunkID:          chunk.UUID,
		ConfigurationKey: config.Key,
		CallbackBaseURL:  o.BaseURL,
		Parameters:       params,
		Grid:             grid,
		ScriptSource:     model.Script,
	}
	body, err := item.Encode()
	if err != nil {
		return err
	}
	if _, err := o.Queue.Put(body); err != nil {
		return err
	}

	now := o.clock().Now()
	if err := o.DB.Model(jc).Update("enqueued_at", now).Error; err != nil {
		return fmt.Errorf("orchestrator: mark chunk %s enqueued: %w", jc.UUID, err)
	}
	jc.EnqueuedAt = &now
	if o.Metrics != nil {
		o.Metrics.ChunksEnqueued.Inc()
	}
	return nil
}

func (o *Orchestrator) modelOf(config *models.ModelConfiguration) (*models.SimModel, error) {
	var model models.SimModel
	if err := o.DB.First(&model, config.SimModelID).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: model of configuration %s: %w", config.Key, err)
	}
	return &model, nil
}

// completeChunkIDs returns the chunk ids already COMPLETE for a
// configuration, across all of its jobs. These are the cache hits a new
// job skips.
func (o *Orchestrator) completeChunkIDs(configID uint) ([]uint, error) {
	var ids []uint
	err := o.DB.Model(&models.JobChunk{}).
		Joins("JOIN jobs ON jobs.id = job_chunks.job_id").
		Where("jobs.model_configuration_id = ? AND job_chunks.status_code = ?", configID, models.StatusComplete).
		Distinct().
		Pluck("job_chunks.chunk_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("orchestrator: query complete chunks: %w", err)
	}
	return ids, nil
}

// RequeueStale re-enqueues PENDING chunks whose work item apparently
// never reached a worker: enqueued (or persisted) longer ago than
// staleAfter with no run started. This is the recovery path for a crash
// between persist and enqueue and for lost queue items.
func (o *Orchestrator) RequeueStale(staleAfter time.Duration) (int, error) {
	cutoff := o.clock().Now().Add(-staleAfter)
	var stale []models.JobChunk
	err := o.DB.
		Where("status_code = ? AND started_at IS NULL", models.StatusPending).
		Where("(enqueued_at IS NULL AND created_at < ?) OR enqueued_at < ?", cutoff, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("orchestrator: scan stale chunks: %w", err)
	}

	requeued := 0
	for i := range stale {
		jc := &stale[i]
		var job models.Job
		if err := o.DB.First(&job, jc.JobID).Error; err != nil {
			o.logf("requeue %s: job: %v", jc.UUID, err)
			continue
		}
		var config models.ModelConfiguration
		if err := o.DB.First(&config, job.ModelConfigurationID).Error; err != nil {
			o.logf("requeue %s: configuration: %v", jc.UUID, err)
			continue
		}
		model, err := o.modelOf(&config)
		if err != nil {
			o.logf("requeue %s: %v", jc.UUID, err)
			continue
		}
		var chunk models.Chunk
		if err := o.DB.First(&chunk, jc.ChunkID).Error; err != nil {
			o.logf("requeue %s: chunk: %v", jc.UUID, err)
			continue
		}
		if err := o.enqueueChunk(model, &config, jc, &chunk); err != nil {
			o.logf("requeue %s: %v", jc.UUID, err)
			continue
		}
		requeued++
		if o.Metrics != nil {
			o.Metrics.ChunksRequeued.Inc()
		}
	}
	if requeued > 0 {
		o.logf("requeued %d stale chunks", requeued)
	}
	return requeued, nil
}
