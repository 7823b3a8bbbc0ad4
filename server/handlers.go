package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voiceMemo/config"
	"voiceMemo/core"
	"voiceMemo/processors"
	"voiceMemo/storage"
)

// Server wires the handlers to their collaborators.
type Server struct {
	cfg         *config.Config
	memos       storage.MemoStore
	blobs       storage.BlobStore
	vectors     storage.VectorStore
	transcriber processors.Transcriber
	analyzer    processors.CategoryAnalyzer
	jobs        *core.JobRegistry
}

func New(cfg *config.Config, memos storage.MemoStore, blobs storage.BlobStore, vectors storage.VectorStore,
	transcriber processors.Transcriber, analyzer processors.CategoryAnalyzer) *Server {
	return &Server{
		cfg:         cfg,
		memos:       memos,
		blobs:       blobs,
		vectors:     vectors,
		transcriber: transcriber,
		analyzer:    analyzer,
		jobs:        core.GetJobRegistry(),
	}
}

func (s *Server) pipeline() *processors.Pipeline {
	return &processors.Pipeline{
		Blobs:       s.blobs,
		Transcriber: s.transcriber,
		Analyzer:    s.analyzer,
		Memos:       s.memos,
		Vectors:     s.vectors,
		Jobs:        s.jobs,
		Options:     processors.DefaultTranscribeOptions(s.cfg),
	}
}

// Routes registers every endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/process-audio", s.processAudioHandler)
	mux.HandleFunc("/transcribe", s.transcribeHandler)
	mux.HandleFunc("/analyze", s.analyzeHandler)
	mux.HandleFunc("/extract-event", s.extractEventHandler)
	mux.HandleFunc("/memos", s.memosHandler)
	mux.HandleFunc("/memos/", s.memoHandler)
	mux.HandleFunc("/memos/subscribe", s.subscribeHandler)
	mux.HandleFunc("/search", s.searchHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/jobs", s.jobsHandler)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readAudioForm reads the multipart audio submission shared by
// /process-audio and /transcribe.
func (s *Server) readAudioForm(r *http.Request) (userID string, audio []byte, filename string, duration float64, err error) {
	if err = r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return "", nil, "", 0, fmt.Errorf("parse multipart form: %w", err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", nil, "", 0, fmt.Errorf("audio file is required: %w", err)
	}
	defer file.Close()

	if header.Size > s.cfg.MaxUploadBytes {
		return "", nil, "", 0, fmt.Errorf("audio too large: %d bytes (max %d)", header.Size, s.cfg.MaxUploadBytes)
	}
	audio, err = io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return "", nil, "", 0, fmt.Errorf("read audio: %w", err)
	}
	if int64(len(audio)) > s.cfg.MaxUploadBytes {
		return "", nil, "", 0, fmt.Errorf("audio too large (max %d bytes)", s.cfg.MaxUploadBytes)
	}

	userID = r.FormValue("user_id")
	filename = header.Filename
	if filename == "" {
		filename = "recording" + processors.DetectAudioFormat(audio).Extension()
	}
	if v := r.FormValue("duration"); v != "" {
		if d, perr := strconv.ParseFloat(v, 64); perr == nil && d >= 0 {
			duration = d
		}
	}
	return userID, audio, filename, duration, nil
}

func (s *Server) processAudioHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	userID, audio, filename, duration, err := s.readAudioForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	out, err := s.pipeline().Run(r.Context(), processors.RunInput{
		UserID:   userID,
		Audio:    audio,
		Filename: filename,
		Duration: duration,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	_, audio, _, _, err := s.readAudioForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	opts := processors.DefaultTranscribeOptions(s.cfg)
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid options json"})
			return
		}
	}

	result, err := s.transcriber.Transcribe(r.Context(), audio, opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"transcript": result.Transcript,
		"confidence": result.Confidence,
	})
}

type analyzeRequest struct {
	Text string `json:"text"`
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "text is required"})
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), req.Text)
	if err != nil {
		// Same degradation the pipeline applies: classification failures
		// still yield a usable result.
		log.Printf("Warning: analyze endpoint falling back to defaults: %v", err)
		result = processors.FallbackAnalysis(req.Text)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": result})
}

type extractEventRequest struct {
	Text     string        `json:"text"`
	MemoID   string        `json:"memo_id,omitempty"`
	Category core.Category `json:"category,omitempty"`
}

func (s *Server) extractEventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req extractEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	event := processors.ExtractEvent(req.Text)
	event.SourceMemoID = req.MemoID
	event.Category = req.Category
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) memosHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	memos, err := s.memos.Query(r.Context(), storage.MemoQuery{UserID: userID, Limit: limit})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memos": memos, "count": len(memos)})
}

func (s *Server) memoHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/memos/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "memo id required"})
		return
	}
	switch r.Method {
	case http.MethodGet:
		memo, err := s.memos.Get(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, memo)
	case http.MethodDelete:
		if err := s.memos.Delete(r.Context(), id); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// subscribeHandler streams the user's memo events over SSE, preceded by a
// snapshot of the current list.
func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := s.memos.Subscribe(userID)
	defer unsubscribe()

	memos, err := s.memos.Query(r.Context(), storage.MemoQuery{UserID: userID})
	if err == nil {
		writeSSE(w, "snapshot", memos)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev.Type, ev.Memo)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

type searchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	TopK   int    `json:"top_k"`
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and query are required"})
		return
	}

	hits, err := s.vectors.Search(r.Context(), req.UserID, req.Query, req.TopK)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"query": req.Query, "hits": hits})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]core.HealthCheck{
		"memo_store": core.RunCheck(func(ctx context.Context) error { return s.memos.Ping(ctx) }),
		"blob_store": core.RunCheck(func(ctx context.Context) error { return s.blobs.Ping(ctx) }),
		"ffmpeg":     core.CheckFFmpeg(),
	}
	if s.cfg.HasValidAPI() {
		checks["api_endpoint"] = core.CheckEndpoint(s.cfg.BaseURL)
	}

	status := core.HealthStatus{
		Status:    core.OverallStatus(checks),
		Timestamp: time.Now(),
		Checks:    checks,
		System:    core.CollectSystemInfo(),
	}
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Stats())
}

func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.jobs.Snapshot()})
}
