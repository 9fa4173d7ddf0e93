package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"documind/internal/cache"
	"documind/internal/extract"
	"documind/internal/models"
	"documind/internal/pipeline"
	"documind/internal/rag"
	"documind/internal/storage"
	"documind/internal/vectorstore"
	"documind/internal/worker"
)

const maxUploadBytes = 50 << 20 // 50 MB per request

// Handler wires HTTP routes to the ingestion workers and the
// retrieval engine.
type Handler struct {
	engine     *rag.Engine
	store      *storage.Store
	index      *vectorstore.Index
	cache      *cache.SemanticCache
	dispatcher *worker.Dispatcher
	tracker    *worker.BatchTracker
	uploadDir  string
}

func NewHandler(engine *rag.Engine, store *storage.Store, index *vectorstore.Index, cacheSvc *cache.SemanticCache, dispatcher *worker.Dispatcher, tracker *worker.BatchTracker, uploadDir string) *Handler {
	return &Handler{
		engine:     engine,
		store:      store,
		index:      index,
		cache:      cacheSvc,
		dispatcher: dispatcher,
		tracker:    tracker,
		uploadDir:  uploadDir,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/documents/upload", h.uploadDocuments)
	api.GET("/documents/batches/:batch_id", h.getBatchStatus)
	api.GET("/documents", h.listDocuments)
	api.DELETE("/documents/:source_id", h.deleteDocument)
	api.GET("/sessions", h.listSessions)
	api.DELETE("/sessions/:session_id", h.deleteSession)
	api.POST("/chat", h.chat)
	api.POST("/chat/stream", h.chatStream)
	api.GET("/chat/history", h.getHistory)
	api.DELETE("/chat/history", h.clearHistory)
	api.GET("/chat/sessions", h.listChatSessions)
	api.GET("/chat/cache/stats", h.cacheStats)
	api.DELETE("/chat/cache", h.clearCache)
}

func (h *Handler) requireSessionID(c *gin.Context) (string, bool) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return "", false
	}
	return sessionID, true
}

// uploadDocuments accepts a batch of files and/or URLs for one
// session. Files are staged under the upload dir and processed
// asynchronously; poll the batch endpoint or pass callback_url.
func (h *Handler) uploadDocuments(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	callbackURL := strings.TrimSpace(c.PostForm("callback_url"))
	urls := cleanURLList(c.PostFormArray("urls"))

	var files []*multipart.FileHeader
	if form := c.Request.MultipartForm; form != nil {
		files = form.File["files"]
	}
	if len(files) == 0 && len(urls) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file or url is required"})
		return
	}

	var jobs []worker.Job
	var staged []string
	fail := func(status int, msg string) {
		for _, path := range staged {
			os.Remove(path)
		}
		c.JSON(status, gin.H{"error": msg})
	}

	batchID := uuid.NewString()
	for _, fh := range files {
		filename := filepath.Base(fh.Filename)
		fileType, err := extract.DetectType(filename, "")
		if err != nil {
			fail(http.StatusBadRequest, fmt.Sprintf("unsupported file: %s", filename))
			return
		}
		destPath := filepath.Join(h.uploadDir, fmt.Sprintf("%s_%s_%s", sessionID, uuid.NewString(), filename))
		if err := c.SaveUploadedFile(fh, destPath); err != nil {
			fail(http.StatusInternalServerError, "save file failed")
			return
		}
		staged = append(staged, destPath)
		jobs = append(jobs, worker.Job{
			Type: worker.Ingest,
			IngestTask: &worker.IngestTask{
				BatchID: batchID,
				Request: pipeline.Request{
					SessionID: sessionID,
					Path:      destPath,
					Filename:  filename,
					FileType:  fileType,
				},
				CleanupPath: destPath,
			},
		})
	}
	for _, url := range urls {
		jobs = append(jobs, worker.Job{
			Type: worker.Ingest,
			IngestTask: &worker.IngestTask{
				BatchID: batchID,
				Request: pipeline.Request{
					SessionID: sessionID,
					URL:       url,
					Filename:  url,
					FileType:  models.FileTypeURL,
				},
			},
		})
	}

	h.tracker.Register(batchID, sessionID, len(jobs), callbackURL)
	for i, job := range jobs {
		if err := h.dispatcher.Submit(job); err != nil {
			// Report the unsubmitted remainder so the batch still closes.
			for _, left := range jobs[i:] {
				h.tracker.Record(batchID, worker.FileOutcome{
					Filename: left.IngestTask.Request.Filename,
					Error:    worker.ErrDispatcherBusy.Error(),
				})
				if left.IngestTask.CleanupPath != "" {
					os.Remove(left.IngestTask.CleanupPath)
				}
			}
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "server is busy, please retry",
				"batch_id": batchID,
				"accepted": i,
			})
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batchID,
		"total":    len(jobs),
	})
}

func (h *Handler) getBatchStatus(c *gin.Context) {
	batchID := c.Param("batch_id")
	status, ok := h.tracker.Status(batchID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) listDocuments(c *gin.Context) {
	sessionID, ok := h.requireSessionID(c)
	if !ok {
		return
	}
	docs, err := h.store.ListDocuments(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if docs == nil {
		docs = make([]*models.Document, 0)
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// deleteDocument removes one document's record, chunks and cached
// answers. Counts per store are reported back.
func (h *Handler) deleteDocument(c *gin.Context) {
	sessionID, ok := h.requireSessionID(c)
	if !ok {
		return
	}
	sourceID := c.Param("source_id")

	docsDeleted, err := h.store.DeleteDocument(c.Request.Context(), sessionID, sourceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if docsDeleted == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	chunksDeleted, err := h.index.DeleteBySource(c.Request.Context(), sessionID, sourceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cacheDeleted, err := h.cache.InvalidateSession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents_deleted": docsDeleted,
		"chunks_deleted":    chunksDeleted,
		"cache_invalidated": cacheDeleted,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	summaries, err := h.store.SessionSummaries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	counts, err := h.index.CountBySession(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, sm := range summaries {
		sm.ChunkCount = counts[sm.SessionID]
	}
	if summaries == nil {
		summaries = make([]*models.SessionSummary, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

// deleteSession wipes the session everywhere: documents, chunks,
// history and cache. The hash index keeps its entries.
func (h *Handler) deleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	h.dispatcher.CancelSession(sessionID)

	ctx := c.Request.Context()
	docsDeleted, err := h.store.DeleteSession(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	chunksDeleted, err := h.index.DeleteSession(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	messagesDeleted, err := h.store.ClearHistory(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cacheDeleted, err := h.cache.InvalidateSession(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents_deleted": docsDeleted,
		"chunks_deleted":    chunksDeleted,
		"messages_deleted":  messagesDeleted,
		"cache_invalidated": cacheDeleted,
	})
}

type chatRequest struct {
	SessionID  string `json:"session_id"`
	Question   string `json:"question"`
	SourceID   string `json:"source_id"`
	K          int    `json:"k"`
	UseHistory *bool  `json:"use_history"`
}

func (r *chatRequest) options() rag.Options {
	skipHistory := r.UseHistory != nil && !*r.UseHistory
	return rag.Options{
		SourceID:    strings.TrimSpace(r.SourceID),
		Limit:       r.K,
		SkipHistory: skipHistory,
	}
}

func (h *Handler) bindChatRequest(c *gin.Context) (*chatRequest, bool) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, false
	}
	if strings.TrimSpace(req.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return nil, false
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return nil, false
	}
	return &req, true
}

// chat answers in one response body.
func (h *Handler) chat(c *gin.Context) {
	req, ok := h.bindChatRequest(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	answer, err := h.engine.Query(ctx, req.SessionID, req.Question, req.options(), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if answer.Sources == nil {
		answer.Sources = make([]string, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"answer":        answer.Response,
		"sources":       answer.Sources,
		"session_id":    req.SessionID,
		"context_found": answer.ContextFound,
		"cached":        answer.Cached,
	})
}

// chatStream streams the answer over SSE, closing with a [DONE] event.
func (h *Handler) chatStream(c *gin.Context) {
	req, ok := h.bindChatRequest(c)
	if !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	answer, err := h.engine.Query(streamCtx, req.SessionID, req.Question, req.options(), func(delta string) error {
		return sendEvent(gin.H{"content": delta})
	})
	if err != nil {
		_ = sendEvent(gin.H{"error": err.Error()})
		_ = sendEvent("[DONE]")
		return
	}
	_ = sendEvent(gin.H{
		"sources":       answer.Sources,
		"cached":        answer.Cached,
		"context_found": answer.ContextFound,
	})
	_ = sendEvent("[DONE]")
}

func (h *Handler) getHistory(c *gin.Context) {
	sessionID, ok := h.requireSessionID(c)
	if !ok {
		return
	}
	messages, err := h.store.History(c.Request.Context(), sessionID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]*models.ChatMessage, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) clearHistory(c *gin.Context) {
	sessionID, ok := h.requireSessionID(c)
	if !ok {
		return
	}
	deleted, err := h.store.ClearHistory(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages_deleted": deleted})
}

func (h *Handler) listChatSessions(c *gin.Context) {
	ids, err := h.store.ChatSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = make([]string, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

func (h *Handler) cacheStats(c *gin.Context) {
	sessionID, ok := h.requireSessionID(c)
	if !ok {
		return
	}
	stats, err := h.cache.SessionStats(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) clearCache(c *gin.Context) {
	sessionID, ok := h.requireSessionID(c)
	if !ok {
		return
	}
	deleted, err := h.cache.InvalidateSession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cache_invalidated": deleted})
}

func cleanURLList(raw []string) []string {
	var urls []string
	for _, entry := range raw {
		for _, url := range strings.Split(entry, ",") {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			urls = append(urls, url)
		}
	}
	return urls
}
