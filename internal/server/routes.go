package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mvreeden/gridsim/internal/models"
	"github.com/mvreeden/gridsim/internal/orchestrator"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm/clause"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	orch := opts.Orchestrator

	api := router.Group("/api/v1")
	{
		api.POST("/job", handleCreateJob(orch))
		api.GET("/job/:uuid", handleJobStatus(orch))
		api.POST("/prognosis", handlePrognosis(orch))
		api.GET("/config/:key", handleConfig(orch))

		api.GET("/job/:uuid/log", handleJobLog(orch))

		api.GET("/workitem/:id", handleWorkItemGet(orch))
		api.POST("/workitem/:id", handleWorkItemStatus(orch))
		api.GET("/workitem/:id/log", handleWorkItemLog(orch))
		api.POST("/workitem/:id/package", handleWorkItemPackage(orch))

		api.POST("/worker/ping", handleWorkerPing(orch))
		api.GET("/workers", handleWorkerList(orch))

		api.GET("/models", handleModelList(orch))
		api.GET("/discretizations", handleDiscretizationList(orch))
		api.GET("/discretization/:name", handleDiscretizationGet(orch))
	}

	router.GET("/healthz", handleHealth(orch))
	if opts.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}
}

// jobRequest is the body of POST /job and POST /prognosis. The area is
// either a WKT polygon or a lng/lat bounding box.
type jobRequest struct {
	Model      string         `json:"model" binding:"required"`
	Area       string         `json:"area"`
	BBox       []float64      `json:"bbox"`
	Parameters map[string]any `json:"parameters"`
	Requester  string         `json:"requester"`
}

func (r *jobRequest) polygon() (orb.Polygon, error) {
	if r.Area != "" {
		p, err := wkt.UnmarshalPolygon(r.Area)
		if err != nil {
			return nil, fmt.Errorf("area is not a WKT polygon: %w", err)
		}
		return p, nil
	}
	if len(r.BBox) == 4 {
		b := r.BBox
		if b[2] <= b[0] || b[3] <= b[1] {
			return nil, fmt.Errorf("bbox %v is degenerate", b)
		}
		return orb.Polygon{orb.Ring{
			{b[0], b[1]}, {b[2], b[1]}, {b[2], b[3]}, {b[0], b[3]}, {b[0], b[1]},
		}}, nil
	}
	return nil, fmt.Errorf("request needs either area or bbox")
}

func handleCreateJob(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req jobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		area, err := req.polygon()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		config, err := orch.Configure(req.Model, req.Parameters)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		job, err := orch.CreateJob(config, area, req.Requester)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"uuid":      job.UUID,
			"configKey": config.Key,
			"chunks":    len(job.JobChunks),
		})
	}
}

func handleJobStatus(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := orch.JobStatus(c.Param("uuid"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func handlePrognosis(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req jobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		area, err := req.polygon()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		config, err := orch.Configure(req.Model, req.Parameters)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		prog, err := orch.Prognose(config, area)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"configKey": config.Key, "prognosis": prog})
	}
}

func handleConfig(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var config models.ModelConfiguration
		if err := orch.DB.Preload("SimModel").
			Where("config_key = ?", c.Param("key")).First(&config).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(config.ParametersJSON), &params); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		var reporting map[string]any
		// The reporting schema is optional on older models.
		json.Unmarshal([]byte(config.SimModel.ReportingJSON), &reporting)

		c.JSON(http.StatusOK, gin.H{
			"key":        config.Key,
			"identifier": config.Identifier,
			"model":      config.SimModel.Name,
			"version":    config.SimModel.Version,
			"parameters": params,
			"reporting":  reporting,
		})
	}
}

type statusPayload struct {
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	PercentDone   int    `json:"percentDone"`
	Log           string `json:"log"`
}

func handleWorkItemStatus(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload statusPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if payload.StatusCode < models.StatusFailed || payload.StatusCode > models.StatusComplete {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("status code %d out of range", payload.StatusCode)})
			return
		}
		err := orch.HandleStatusUpdate(c.Param("id"),
			payload.StatusCode, payload.StatusMessage, payload.PercentDone, payload.Log)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func handleJobLog(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var job models.Job
		err := orch.DB.Preload("JobChunks").Where("uuid = ?", c.Param("uuid")).First(&job).Error
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		var b strings.Builder
		for _, jc := range job.JobChunks {
			fmt.Fprintf(&b, "=== work item %s (%s) ===\n", jc.UUID, models.StatusName(jc.StatusCode))
			b.WriteString(jc.Log)
			if jc.Log != "" && !strings.HasSuffix(jc.Log, "\n") {
				b.WriteByte('\n')
			}
		}
		c.String(http.StatusOK, b.String())
	}
}

func handleWorkItemGet(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var jc models.JobChunk
		if err := orch.DB.Where("uuid = ?", c.Param("id")).First(&jc).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"uuid":          jc.UUID,
			"statusCode":    jc.StatusCode,
			"statusName":    models.StatusName(jc.StatusCode),
			"statusMessage": jc.StatusMessage,
			"percentDone":   jc.PercentDone,
			"enqueuedAt":    jc.EnqueuedAt,
			"startedAt":     jc.StartedAt,
			"completedAt":   jc.CompletedAt,
		})
	}
}

func handleWorkItemLog(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var jc models.JobChunk
		if err := orch.DB.Where("uuid = ?", c.Param("id")).First(&jc).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.String(http.StatusOK, jc.Log)
	}
}

func handleWorkItemPackage(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("package")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tmpDir, err := os.MkdirTemp("", "gridsim-upload-")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer os.RemoveAll(tmpDir)

		archivePath := filepath.Join(tmpDir, filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, archivePath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := orch.IngestPackage(c.Param("id"), archivePath); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

type pingPayload struct {
	UUID     string `json:"uuid" binding:"required"`
	Hostname string `json:"hostname"`
}

func handleWorkerPing(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload pingPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		node := models.WorkerNode{
			UUID:     payload.UUID,
			Hostname: payload.Hostname,
			LastSeen: time.Now().UTC(),
		}
		err := orch.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uuid"}},
			DoUpdates: clause.AssignmentColumns([]string{"hostname", "last_seen"}),
		}).Create(&node).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func handleWorkerList(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var nodes []models.WorkerNode
		if err := orch.DB.Order("last_seen desc").Find(&nodes).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, len(nodes))
		for i, n := range nodes {
			out[i] = gin.H{"uuid": n.UUID, "hostname": n.Hostname, "lastSeen": n.LastSeen}
		}
		c.JSON(http.StatusOK, gin.H{"workers": out})
	}
}

func handleModelList(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []models.SimModel
		if err := orch.DB.Order("name").Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, len(list))
		for i, m := range list {
			out[i] = gin.H{
				"name":           m.Name,
				"version":        m.Version,
				"discretization": m.DiscretizationName,
				"maxChunks":      m.MaxChunks,
				"abstract":       m.Abstract,
			}
		}
		c.JSON(http.StatusOK, gin.H{"models": out})
	}
}

func handleDiscretizationList(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []models.Discretization
		if err := orch.DB.Order("name").Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, len(list))
		for i, d := range list {
			out[i] = gin.H{
				"name":      d.Name,
				"cellSize":  d.CellSize,
				"numChunks": d.NumChunks,
				"extent":    d.ExtentWKT,
			}
		}
		c.JSON(http.StatusOK, gin.H{"discretizations": out})
	}
}

func handleDiscretizationGet(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var disc models.Discretization
		if err := orch.DB.Where("name = ?", c.Param("name")).First(&disc).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{
			"name":      disc.Name,
			"cellSize":  disc.CellSize,
			"numChunks": disc.NumChunks,
			"extent":    disc.ExtentWKT,
		}
		if geom, err := wkt.Unmarshal(disc.CoverageWKT); err == nil {
			resp["coverage"] = geojson.NewGeometry(geom)
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleHealth(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := orch.Queue.Stats()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if !stats.Connected || stats.Watchers < 1 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"queueConnected": stats.Connected,
			"watchers":       stats.Watchers,
			"ready":          stats.Ready,
			"reserved":       stats.Reserved,
		})
	}
}
