package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crmsync/internal/recovery"
	"crmsync/internal/repository"
	"crmsync/internal/service"
)

type SyncHandler struct {
	Service *service.ContactSyncService
	Updates *service.UpdateService
	Client  service.RemoteCRM
	Repo    repository.Repository
	Logger  *zap.Logger
}

func (h *SyncHandler) Register(r *gin.Engine) {
	group := r.Group("/api/sync")
	group.POST("/run", h.runSync)
	group.POST("/update-batch", h.updateBatch)
	group.GET("/runs", h.listRuns)
	group.GET("/state", h.getState)
	group.GET("/test-connection", h.testConnection)
}

type runSyncRequest struct {
	AccountID string     `json:"account_id"`
	SyncType  string     `json:"sync_type"`
	Since     *time.Time `json:"since"`
	RecordIDs []int64    `json:"record_ids"`
	BatchSize int        `json:"batch_size"`
	Force     bool       `json:"force"`
}

// @Summary Run a synchronization against the remote CRM
// @Tags sync
// @Accept json
// @Param request body runSyncRequest true "run options"
// @Success 200 {object} apiResponse
// @Router /api/sync/run [post]
func (h *SyncHandler) runSync(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req runSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	summary, err := h.Service.Run(c.Request.Context(), service.RunOptions{
		AccountID: req.AccountID,
		SyncType:  req.SyncType,
		Since:     req.Since,
		RecordIDs: req.RecordIDs,
		BatchSize: req.BatchSize,
		Force:     req.Force,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("sync run failed", zap.Error(err))
		}
		Error(c, statusForError(err), err.Error(), map[string]any{
			"sync_run_id": summary.SyncRunID,
		})
		return
	}
	Ok(c, summary, nil)
}

type updateBatchRequest struct {
	Records []struct {
		RecordType string `json:"record_type"`
		RecordID   uint64 `json:"record_id"`
	} `json:"records"`
}

// @Summary Push local record updates to the remote CRM
// @Tags sync
// @Accept json
// @Param request body updateBatchRequest true "records to update"
// @Success 200 {object} apiResponse
// @Router /api/sync/update-batch [post]
func (h *SyncHandler) updateBatch(c *gin.Context) {
	if h.Updates == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req updateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	items := make([]service.UpdateRequest, 0, len(req.Records))
	for _, record := range req.Records {
		items = append(items, service.UpdateRequest{
			RecordType: record.RecordType,
			RecordID:   record.RecordID,
		})
	}
	Ok(c, h.Updates.UpdateBatch(c.Request.Context(), items), nil)
}

// @Summary List sync runs
// @Tags sync
// @Param account_id query string false "account id"
// @Param status query string false "run status"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} apiResponse
// @Router /api/sync/runs [get]
func (h *SyncHandler) listRuns(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	params := repository.ListSyncRunsParams{
		AccountID: strings.TrimSpace(c.Query("account_id")),
		Limit:     intQuery(c, "limit", 50),
		Offset:    intQuery(c, "offset", 0),
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		params.Status = &status
	}
	runs, err := h.Repo.ListSyncRuns(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountSyncRuns(c.Request.Context(), params.AccountID)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, runs, map[string]any{"total": total})
}

// @Summary Get per-account sync state
// @Tags sync
// @Param account_id query string true "account id"
// @Success 200 {object} apiResponse
// @Router /api/sync/state [get]
func (h *SyncHandler) getState(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	accountID := strings.TrimSpace(c.Query("account_id"))
	if accountID == "" {
		Error(c, http.StatusBadRequest, "account_id is required", nil)
		return
	}
	state, err := h.Repo.GetUserSyncState(c.Request.Context(), accountID)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	lastRun, err := h.Repo.GetLastSuccessfulRun(c.Request.Context(), accountID)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, state, map[string]any{
		"recovery_point": recovery.BuildRecoveryPoint(lastRun),
	})
}

// @Summary Verify the remote CRM credential
// @Tags sync
// @Success 200 {object} apiResponse
// @Router /api/sync/test-connection [get]
func (h *SyncHandler) testConnection(c *gin.Context) {
	if h.Client == nil {
		Error(c, http.StatusInternalServerError, "client unavailable", nil)
		return
	}
	if err := h.Client.TestConnection(c.Request.Context()); err != nil {
		Error(c, statusForError(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"connected": true}, nil)
}

// statusForError maps the error taxonomy onto HTTP outcomes. The underlying
// remote message passes through; the credential never does (the client
// redacts it at the source).
func statusForError(err error) int {
	switch recovery.Classify(err).Type {
	case recovery.ErrorRateLimit:
		return http.StatusTooManyRequests
	case recovery.ErrorAuthentication, recovery.ErrorValidation:
		return http.StatusBadRequest
	case recovery.ErrorNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
