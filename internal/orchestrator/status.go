package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mvreeden/gridsim/internal/geo"
	"github.com/mvreeden/gridsim/internal/models"
	"github.com/mvreeden/gridsim/internal/reporting"
	"github.com/paulmach/orb/encoding/wkt"
	"gorm.io/gorm/clause"
)

// FoldStatus derives a job status from the set of distinct child codes:
// all complete means COMPLETE, any failure means FAILED, otherwise
// PROCESSING. A single failed chunk fails the whole job.
func FoldStatus(codes []int) int {
	if len(codes) == 0 {
		return models.StatusPending
	}
	allComplete := true
	for _, c := range codes {
		if c == models.StatusFailed {
			return models.StatusFailed
		}
		if c != models.StatusComplete {
			allComplete = false
		}
	}
	if allComplete {
		return models.StatusComplete
	}
	return models.StatusPending
}

// PercentComplete is the mean of the child percents, truncated.
func PercentComplete(percents []int) int {
	if len(percents) == 0 {
		return 0
	}
	sum := 0
	for _, p := range percents {
		sum += p
	}
	return sum / len(percents)
}

// RefreshJob recomputes a job's cached status from its children. Job
// status is never written directly by a worker, only derived here.
func (o *Orchestrator) RefreshJob(jobID uint) error {
	var chunks []models.JobChunk
	if err := o.DB.Where("job_id = ?", jobID).Find(&chunks).Error; err != nil {
		return fmt.Errorf("orchestrator: load chunks of job %d: %w", jobID, err)
	}
	codes := make([]int, len(chunks))
	for i, c := range chunks {
		codes[i] = c.StatusCode
	}
	status := FoldStatus(codes)

	updates := map[string]any{
		"status_code":    status,
		"status_message": models.StatusName(status),
	}
	if status != models.StatusPending {
		now := o.clock().Now()
		updates["completed_at"] = &now
	} else {
		updates["completed_at"] = nil
	}
	if err := o.DB.Model(&models.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return fmt.Errorf("orchestrator: update job %d: %w", jobID, err)
	}
	return nil
}

// HandleStatusUpdate applies one worker status callback to the job
// chunk addressed by work item id, then refolds the job. The log is a
// full replacement.
func (o *Orchestrator) HandleStatusUpdate(workItemID string, code int, message string, percent int, logText string) error {
	var jc models.JobChunk
	if err := o.DB.Where("uuid = ?", workItemID).First(&jc).Error; err != nil {
		return fmt.Errorf("orchestrator: work item %s: %w", workItemID, err)
	}

	updates := map[string]any{
		"status_code":    code,
		"status_message": message,
		"percent_done":   percent,
		"log":            logText,
	}
	// 100 is granted only by ingestion; the worker's terminal push
	// arrives after the upload and must not lower it.
	if jc.PercentDone == 100 && percent < 100 {
		updates["percent_done"] = 100
	}
	now := o.clock().Now()
	if jc.StartedAt == nil {
		updates["started_at"] = &now
	}
	if code != models.StatusPending && jc.CompletedAt == nil {
		updates["completed_at"] = &now
	}
	if err := o.DB.Model(&jc).Updates(updates).Error; err != nil {
		return fmt.Errorf("orchestrator: update work item %s: %w", workItemID, err)
	}
	if o.Metrics != nil {
		o.Metrics.StatusUpdates.Inc()
	}
	return o.RefreshJob(jc.JobID)
}

// IngestPackage unpacks an uploaded result archive, indexes one Map row
// per manifest entry, and marks the chunk fully done. Ingestion is
// idempotent keyed on the map identity columns: a late duplicate upload
// after a reservation timeout re-inserts nothing.
func (o *Orchestrator) IngestPackage(workItemID, archivePath string) error {
	var jc models.JobChunk
	if err := o.DB.Where("uuid = ?", workItemID).First(&jc).Error; err != nil {
		return fmt.Errorf("orchestrator: work item %s: %w", workItemID, err)
	}
	var chunk models.Chunk
	if err := o.DB.First(&chunk, jc.ChunkID).Error; err != nil {
		return fmt.Errorf("orchestrator: chunk of work item %s: %w", workItemID, err)
	}

	destDir := filepath.Join(o.DataDir, "results", workItemID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: results dir: %w", err)
	}
	manifest, err := reporting.ExtractArchive(archivePath, destDir)
	if err != nil {
		return err
	}
	if len(manifest.Entries) == 0 {
		return fmt.Errorf("orchestrator: archive for %s has an empty manifest", workItemID)
	}

	mercator, err := chunkMercatorWKT(chunk)
	if err != nil {
		o.logf("ingest %s: mercator extent: %v", workItemID, err)
	}

	for _, entry := range manifest.Entries {
		ts, err := time.Parse(reporting.TimestampLayout, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("orchestrator: manifest timestamp %q: %w", entry.Timestamp, err)
		}
		var config models.ModelConfiguration
		if err := o.DB.Where("config_key = ?", entry.ConfigKey).First(&config).Error; err != nil {
			return fmt.Errorf("orchestrator: manifest configuration %s: %w", entry.ConfigKey, err)
		}

		row := models.Map{
			ConfigKey:            entry.ConfigKey,
			ChunkID:              chunk.ID,
			Attribute:            entry.Attribute,
			Timestamp:            ts,
			ModelConfigurationID: config.ID,
			Filename:             filepath.Join("results", workItemID, entry.Filename),
			FileSRS:              entry.SourceCRS,
			Datatype:             entry.Datatype,
			GeomWKT:              chunk.GeomWKT,
			GeomMercatorWKT:      mercator,
		}
		res := o.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("orchestrator: index map row: %w", res.Error)
		}
		if o.Metrics != nil && res.RowsAffected > 0 {
			o.Metrics.MapsIndexed.Inc()
		}
	}

	// 100 percent is granted only here, once the results are really on
	// disk and indexed.
	if err := o.DB.Model(&jc).Update("percent_done", 100).Error; err != nil {
		return fmt.Errorf("orchestrator: mark work item %s ingested: %w", workItemID, err)
	}
	if o.Metrics != nil {
		o.Metrics.PackagesIngested.Inc()
	}
	return o.RefreshJob(jc.JobID)
}

func chunkMercatorWKT(chunk models.Chunk) (string, error) {
	polygon, err := wkt.UnmarshalPolygon(chunk.GeomWKT)
	if err != nil {
		return "", err
	}
	return wkt.MarshalString(geo.TransformPolygon(polygon, geo.LonLatToMercator())), nil
}

// JobSummary is the aggregate read model for one job.
type JobSummary struct {
	UUID          string         `json:"uuid"`
	StatusCode    int            `json:"statusCode"`
	StatusMessage string         `json:"statusMessage"`
	PercentDone   int            `json:"percentDone"`
	Chunks        []ChunkSummary `json:"chunks"`
}

// ChunkSummary is one child's slice of a JobSummary.
type ChunkSummary struct {
	UUID          string `json:"uuid"`
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	PercentDone   int    `json:"percentDone"`
}

// JobStatus assembles the aggregate view of a job by uuid.
func (o *Orchestrator) JobStatus(jobUUID string) (*JobSummary, error) {
	var job models.Job
	if err := o.DB.Preload("JobChunks").Where("uuid = ?", jobUUID).First(&job).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: job %s: %w", jobUUID, err)
	}

	summary := JobSummary{
		UUID:          job.UUID,
		StatusCode:    job.StatusCode,
		StatusMessage: job.StatusMessage,
	}
	percents := make([]int, len(job.JobChunks))
	for i, jc := range job.JobChunks {
		percents[i] = jc.PercentDone
		summary.Chunks = append(summary.Chunks, ChunkSummary{
			UUID:          jc.UUID,
			StatusCode:    jc.StatusCode,
			StatusMessage: jc.StatusMessage,
			PercentDone:   jc.PercentDone,
		})
	}
	summary.PercentDone = PercentComplete(percents)
	return &summary, nil
}
