package research

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/dossier-forge/internal/auth"
	"github.com/yourusername/dossier-forge/internal/jobs"
)

type createRequest struct {
	Target     string `json:"target" binding:"required"`
	TargetKind string `json:"targetKind" binding:"required"`
	Depth      string `json:"depth" binding:"required"`
}

// CreateHandler は POST /api/research のハンドラーを返します。
func CreateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "target・targetKind・depth を JSON で送ってください",
			})
			return
		}

		userID := c.GetString(auth.ContextUserKey)
		record, err := svc.CreateJob(c.Request.Context(), userID, req.Target, req.TargetKind, req.Depth)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, jobResponse(record))
	}
}

// ListHandler は GET /api/research のハンドラーを返します。
func ListHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserKey)
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		offset := 0
		if raw := c.Query("offset"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				offset = n
			}
		}

		var statusFilter jobs.Status
		if raw := c.Query("status"); raw != "" {
			if !jobs.ValidStatus(raw) {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "status は pending・processing・completed・failed のいずれかを指定してください",
				})
				return
			}
			statusFilter = jobs.Status(raw)
		}

		// ステータスで絞り込む場合は取得後にフィルターするため広めに読む
		fetch := limit + offset
		if statusFilter != "" {
			fetch = 200
		}
		records, err := svc.ListJobs(c.Request.Context(), userID, fetch)
		if err != nil {
			respondWithError(c, err)
			return
		}

		items := make([]gin.H, 0, limit)
		matched := 0
		for _, record := range records {
			if statusFilter != "" && record.Status != statusFilter {
				continue
			}
			matched++
			if matched <= offset {
				continue
			}
			if len(items) >= limit {
				break
			}
			items = append(items, jobResponse(record))
		}
		c.JSON(http.StatusOK, gin.H{"jobs": items})
	}
}

// GetHandler は GET /api/research/:id のハンドラーを返します。
func GetHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserKey)
		record, err := svc.GetJob(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, jobResponse(record))
	}
}

// DeleteHandler は DELETE /api/research/:id のハンドラーを返します。
func DeleteHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserKey)
		if err := svc.DeleteJob(c.Request.Context(), userID, c.Param("id")); err != nil {
			respondWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// DownloadHandler は GET /api/research/:id/download のハンドラーを返します。
// 完了済みジョブのレポート成果物をそのまま配信します。
func DownloadHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserKey)
		record, err := svc.GetJob(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		if record.Status != jobs.StatusCompleted || record.ReportPath == "" {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "REPORT_NOT_READY",
				"message": "レポートはまだ生成されていません",
			})
			return
		}

		file, err := os.Open(record.ReportPath)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "REPORT_MISSING",
				"message": "レポートファイルが見つかりません",
			})
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			respondWithError(c, err)
			return
		}

		filename := filepath.Base(record.ReportPath)
		contentType := "text/markdown; charset=utf-8"
		if filepath.Ext(filename) == ".html" {
			contentType = "text/html; charset=utf-8"
		}

		encodedName := url.PathEscape(filename)
		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"; filename*=UTF-8''"+encodedName)
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", record.JobID)
		c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
	}
}

func jobResponse(record *jobs.Record) gin.H {
	resp := gin.H{
		"jobId":          record.JobID,
		"target":         record.Target,
		"targetKind":     record.TargetKind,
		"depth":          record.Depth,
		"status":         record.Status,
		"creditsCharged": record.CreditsCharged,
		"createdAt":      record.CreatedAt,
	}
	if record.StartedAt != nil {
		resp["startedAt"] = record.StartedAt
	}
	if record.CompletedAt != nil {
		resp["completedAt"] = record.CompletedAt
	}
	if record.ReportURL != "" {
		resp["reportUrl"] = record.ReportURL
	}
	if record.ErrorMessage != "" {
		resp["errorMessage"] = record.ErrorMessage
	}
	return resp
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusInternalServerError
		switch apiErr.Code {
		case "VALIDATION_ERROR", "INVALID_INPUT", "JOB_ACTIVE":
			status = http.StatusBadRequest
		case "INSUFFICIENT_CREDITS":
			status = http.StatusPaymentRequired
		case "DUPLICATE_JOB":
			status = http.StatusConflict
		case "JOB_NOT_FOUND":
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました",
		})
	}
}
