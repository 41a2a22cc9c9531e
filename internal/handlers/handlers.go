package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/thermoscan/internal/auth"
	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/export"
	"github.com/example/thermoscan/internal/metrics"
	"github.com/example/thermoscan/internal/usecase"
)

// MaxBodySize bounds a process request, base64 image included.
const MaxBodySize = 10 << 20

type processRequest struct {
	Image           string `json:"image"`
	Model           string `json:"model"`
	GeminiAPIKey    string `json:"geminiApiKey"`
	TogetherAPIKey  string `json:"togetherApiKey"`
	MoondreamAPIKey string `json:"moondreamApiKey"`
	GRPCAPIKey      string `json:"grpcApiKey"`
}

func (r processRequest) credentials() usecase.Credentials {
	return usecase.Credentials{
		domain.ProviderGemini:    r.GeminiAPIKey,
		domain.ProviderTogether:  r.TogetherAPIKey,
		domain.ProviderMoondream: r.MoondreamAPIKey,
		domain.ProviderGRPC:      r.GRPCAPIKey,
	}
}

type processResponse struct {
	RequestID     string  `json:"request_id"`
	Temperature   float64 `json:"temperature"`
	Status        string  `json:"status"`
	Model         string  `json:"model"`
	Timestamp     string  `json:"timestamp"`
	Simulated     bool    `json:"simulated"`
	SQLiteSuccess bool    `json:"sqlite_success"`
	MongoSuccess  bool    `json:"mongo_success"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. exportAuth guards
// the export endpoints and may be nil.
func RegisterRoutes(router *gin.Engine, uc *usecase.ReadingUseCase, history *usecase.HistoryService, m *metrics.Metrics, exportAuth gin.HandlerFunc, logger *zap.Logger) {
	logger = logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "providers": uc.Providers()})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api")

	api.POST("/process", func(c *gin.Context) {
		if c.Request.ContentLength > MaxBodySize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		if c.ContentType() != gin.MIMEJSON {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be application/json"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)

		var req processRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}

		result, err := uc.Process(c.Request.Context(), usecase.ProcessRequest{
			Image:       req.Image,
			Provider:    domain.Provider(req.Model),
			Credentials: req.credentials(),
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, processResponse{
			RequestID:     result.RequestID,
			Temperature:   result.Reading.Temperature,
			Status:        string(result.Reading.Status),
			Model:         string(result.Reading.Model),
			Timestamp:     domain.FormatStored(result.Reading.Timestamp),
			Simulated:     result.Simulated,
			SQLiteSuccess: result.LocalOK,
			MongoSuccess:  result.ArchiveOK,
		})
	})

	api.GET("/history", func(c *gin.Context) {
		entries, err := history.History(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})

	api.GET("/summary", func(c *gin.Context) {
		summary, err := history.Summary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	exportSession := func(c *gin.Context) {
		var buf bytes.Buffer
		if err := history.ExportSession(c.Request.Context(), &buf); err != nil {
			writeError(c, err)
			return
		}
		logExport(c, logger, "session", buf.Len())
		writeCSV(c, export.SessionFilename(time.Now()), buf.Bytes())
	}
	exportArchive := func(c *gin.Context) {
		var buf bytes.Buffer
		if err := history.ExportArchive(c.Request.Context(), &buf); err != nil {
			writeError(c, err)
			return
		}
		logExport(c, logger, "archive", buf.Len())
		writeCSV(c, export.ArchiveFilename(time.Now()), buf.Bytes())
	}
	api.GET("/export", guarded(exportAuth, exportSession)...)
	api.GET("/export-full", guarded(exportAuth, exportArchive)...)

	archiveStatus := func(c *gin.Context) {
		status, err := history.ArchiveStatus(c.Request.Context())
		if err != nil {
			c.JSON(statusFor(err), gin.H{
				"reachable": false,
				"error":     err.Error(),
				"code":      string(domain.CodeOf(err)),
			})
			return
		}
		c.JSON(http.StatusOK, status)
	}
	api.GET("/archive/status", archiveStatus)
	router.GET("/test-mongo", archiveStatus)
}

func guarded(mw gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	if mw == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{mw, h}
}

// logExport records who pulled an export. subject is empty when export
// auth is disabled.
func logExport(c *gin.Context, logger *zap.Logger, store string, size int) {
	subject, _ := auth.GetSubject(c.Request.Context())
	logger.Info("export served",
		zap.String("store", store),
		zap.String("subject", subject),
		zap.Int("bytes", size),
	)
}

func writeCSV(c *gin.Context, filename string, body []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "text/csv", body)
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
		"kind":  string(domain.KindOf(err)),
		"code":  string(domain.CodeOf(err)),
	})
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInput:
		return http.StatusBadRequest
	case domain.KindExtraction:
		return http.StatusBadGateway
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
