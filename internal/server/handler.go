package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stywzn/vuln-sentinel/internal/extract"
	"github.com/stywzn/vuln-sentinel/internal/model"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
	"github.com/stywzn/vuln-sentinel/pkg/mq"
)

type startScanRequest struct {
	TargetURL string `json:"target_url" binding:"required"`
}

type submitTaskRequest struct {
	Target string `json:"target" binding:"required"`
}

type rejectedFinding struct {
	Index int    `json:"index"`
	Field string `json:"field"`
	Value string `json:"value"`
	Error string `json:"error"`
}

// respond writes the shared envelope. code mirrors the HTTP status; failures
// carry error instead of data.
func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"code": status, "data": data})
}

func respondMessage(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, gin.H{"code": status, "message": msg, "data": data})
}

func errorBody(status int, msg string) gin.H {
	return gin.H{"code": status, "error": msg}
}

func reject(c *gin.Context, status int, msg string) {
	c.JSON(status, errorBody(status, msg))
}

func (h *HttpServer) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	reject(c, statusFor(err), err.Error())
}

func (h *HttpServer) startScan(c *gin.Context) {
	var req startScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.deps.Scanner.RunScan(c.Request.Context(), req.TargetURL)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.deps.Store.SaveFeatures(c.Request.Context(), out.Features); err != nil {
		h.fail(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Scan completed", gin.H{
		"scan_id":      out.JobID,
		"target_url":   out.TargetURL,
		"poller_state": out.PollerState,
		"progress":     out.Progress,
		"features":     len(out.Features),
		"rejected":     rejectedView(out.Rejected),
	})
}

func rejectedView(errs []*extract.ValidationError) []rejectedFinding {
	out := make([]rejectedFinding, 0, len(errs))
	for _, e := range errs {
		out = append(out, rejectedFinding{Index: e.Index, Field: e.Field, Value: e.Value, Error: e.Err.Error()})
	}
	return out
}

func (h *HttpServer) scanReport(c *gin.Context) {
	target := c.Query("target_url")
	if target == "" {
		reject(c, http.StatusBadRequest, "target_url is required")
		return
	}

	ctx := c.Request.Context()
	if !h.deps.Engine.CheckReachable(ctx) {
		reject(c, http.StatusServiceUnavailable, "scan engine is not accessible")
		return
	}
	alerts, err := h.deps.Engine.FetchFindings(ctx, target)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"scan_id": c.Param("scan_id"), "alerts": alerts})
}

func (h *HttpServer) scanStatus(c *gin.Context) {
	if h.deps.Sessions == nil {
		reject(c, http.StatusServiceUnavailable, "session mirror disabled")
		return
	}
	s, err := h.deps.Sessions.Get(c.Request.Context(), c.Param("scan_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, s)
}

func (h *HttpServer) listScans(c *gin.Context) {
	vulns, err := h.deps.Store.ListVulnerabilities(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"scans": vulns})
}

func (h *HttpServer) listVulnerabilities(c *gin.Context) {
	vulns, err := h.deps.Store.ListVulnerabilities(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"vulnerabilities": vulns})
}

func (h *HttpServer) listFeatures(c *gin.Context) {
	features, err := h.deps.Store.ListFeatures(c.Request.Context(), c.Query("target_url"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"features": features})
}

func (h *HttpServer) fetchNVD(c *gin.Context) {
	runID, _ := h.deps.Ingestion.Trigger(c.Request.Context())
	logger.FromContext(c.Request.Context(), h.deps.Log).Info("Feed ingestion triggered", logger.String("run_id", runID))
	respondMessage(c, http.StatusAccepted, "Fetching NVD data in the background", gin.H{"run_id": runID})
}

func (h *HttpServer) lastIngest(c *gin.Context) {
	res, ok := h.deps.Ingestion.Last()
	if !ok {
		reject(c, http.StatusNotFound, "no ingestion has finished yet")
		return
	}
	respond(c, http.StatusOK, res)
}

func (h *HttpServer) submitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Target) == "" {
		reject(c, http.StatusBadRequest, "target is required")
		return
	}
	if h.deps.Publisher == nil {
		reject(c, http.StatusServiceUnavailable, "task queue disabled")
		return
	}

	ctx := c.Request.Context()
	task := &model.ScanTask{Target: req.Target, Status: model.TaskPending}
	if err := h.deps.Store.CreateTask(ctx, task); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.deps.Publisher.Publish(ctx, mq.ScanMessage{TaskID: task.ID, Target: task.Target}); err != nil {
		h.fail(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Task submitted", gin.H{"task_id": task.ID})
}

func (h *HttpServer) getTask(c *gin.Context) {
	id, err := strconv.ParseUint(c.Query("id"), 10, 64)
	if err != nil || id == 0 {
		reject(c, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	task, err := h.deps.Store.GetTask(c.Request.Context(), uint(id))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, task)
}

func (h *HttpServer) health(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{"engine": "up", "database": "up"}
	status := http.StatusOK

	if !h.deps.Engine.CheckReachable(ctx) {
		checks["engine"] = "down"
	}
	if err := h.deps.Store.Ping(ctx); err != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	}
	respond(c, status, gin.H{"status": http.StatusText(status), "checks": checks})
}
