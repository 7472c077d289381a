package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/scribeworks/scribe/internal/archive"
	"github.com/scribeworks/scribe/internal/chunker"
	"github.com/scribeworks/scribe/internal/governor"
	"github.com/scribeworks/scribe/internal/pipeline"
	"github.com/scribeworks/scribe/internal/store"
)

// allowedModels is the closed set callers may request.
var allowedModels = map[string]bool{
	"gemini-2.0-flash": true,
	"gemini-2.5-flash": true,
	"gemini-1.5-flash": true,
	"gemini-pro":       true,
}

type generateResponse struct {
	ID          string `json:"id,omitempty"`
	Filename    string `json:"filename"`
	Model       string `json:"model"`
	Readme      string `json:"readme"`
	Partial     bool   `json:"partial"`
	Saved       bool   `json:"saved"`
	TokensUsed  int64  `json:"tokens_used"`
	ChunksDone  int    `json:"chunks_done"`
	ChunksTotal int    `json:"chunks_total"`
	FilesUsed   int    `json:"files_used"`

	// Selection accounting: entries skipped outright and entries that were
	// selectable but cut by the aggregate size budget.
	FilesSkipped     int `json:"files_skipped"`
	DroppedForBudget int `json:"dropped_for_budget"`
}

// generate handles POST /api/v1/readmes: multipart upload in, document out.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	// Slack beyond the archive ceiling for the multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, http.StatusRequestEntityTooLarge, "upload exceeds archive size limit")
			return
		}
		jsonError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	model := r.FormValue("model")
	if model == "" {
		model = s.defaultModel
	}
	if !allowedModels[model] {
		jsonError(w, http.StatusBadRequest, "unsupported model: "+model)
		return
	}

	out, err := s.generator.Run(r.Context(), pipeline.Request{
		Owner:       owner,
		Filename:    header.Filename,
		Archive:     data,
		Requirement: r.FormValue("prompt"),
		Model:       model,
		APIKey:      r.FormValue("api_key"),
	})
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}

	generationTokensTotal.Add(float64(out.TokensUsed))

	resp := generateResponse{
		Filename:    header.Filename,
		Model:       model,
		Readme:      out.Document,
		Partial:     out.Partial,
		Saved:       out.Saved,
		TokensUsed:  out.TokensUsed,
		ChunksDone:  out.ChunksDone,
		ChunksTotal: out.ChunksTotal,
		FilesUsed:   out.FilesUsed,

		FilesSkipped:     out.FilesSkipped,
		DroppedForBudget: out.DroppedForBudget,
	}
	if out.Saved {
		resp.ID = out.ReadmeID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, archive.ErrTooLarge):
		jsonError(w, http.StatusRequestEntityTooLarge, "archive exceeds size limit")
	case errors.Is(err, archive.ErrCorrupt):
		jsonError(w, http.StatusBadRequest, "archive is not a valid zip")
	case errors.Is(err, archive.ErrUnsafe):
		jsonError(w, http.StatusBadRequest, "archive contains unsafe entries")
	case errors.Is(err, chunker.ErrNoContent):
		jsonError(w, http.StatusUnprocessableEntity, "no analyzable files in archive")
	case errors.Is(err, governor.ErrQuotaExhausted):
		jsonError(w, http.StatusTooManyRequests, "daily token quota exhausted")
	case errors.Is(err, pipeline.ErrNoUsableOutput):
		jsonError(w, http.StatusBadGateway, "generation backend produced no output")
	default:
		s.logger.Error("generation failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "generation failed")
	}
}

func (s *Server) writeRecordError(w http.ResponseWriter, owner string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, store.ErrForbidden):
		jsonError(w, http.StatusForbidden, "record belongs to another user")
	default:
		s.logger.Error("record access failed", "owner", owner, "error", err)
		jsonError(w, http.StatusInternalServerError, "record access failed")
	}
}

type readmeSummary struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Model       string    `json:"model"`
	TotalTokens int64     `json:"total_tokens"`
	Partial     bool      `json:"partial"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) listReadmes(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	recs, err := s.records.ListReadmes(r.Context(), owner)
	if err != nil {
		s.logger.Error("list readmes failed", "owner", owner, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	out := make([]readmeSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, readmeSummary{
			ID:          rec.ID.String(),
			Filename:    rec.Filename,
			Model:       rec.Model,
			TotalTokens: rec.TotalTokens,
			Partial:     rec.Partial,
			CreatedAt:   rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"readmes": out, "count": len(out)})
}

type readmeDetail struct {
	readmeSummary
	Requirement string `json:"requirement,omitempty"`
	Content     string `json:"content"`
}

func (s *Server) getReadme(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	rec, ok := s.cache.Get(id)
	if !ok {
		rec, err = s.records.GetReadme(r.Context(), id, owner)
		if err == nil {
			s.cache.Add(id, rec)
		}
	}
	// Ownership is checked even on a cache hit.
	if err == nil && rec.Owner != owner {
		err = store.ErrForbidden
	}
	if err != nil {
		s.writeRecordError(w, owner, err)
		return
	}

	writeJSON(w, http.StatusOK, readmeDetail{
		readmeSummary: readmeSummary{
			ID:          rec.ID.String(),
			Filename:    rec.Filename,
			Model:       rec.Model,
			TotalTokens: rec.TotalTokens,
			Partial:     rec.Partial,
			CreatedAt:   rec.CreatedAt,
		},
		Requirement: rec.Requirement,
		Content:     rec.Content,
	})
}

func (s *Server) deleteReadme(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	if err := s.records.DeleteReadme(r.Context(), id, owner); err != nil {
		s.writeRecordError(w, owner, err)
		return
	}
	s.cache.Remove(id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id.String()})
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	stats, err := s.records.GetUsage(r.Context(), owner)
	if err != nil {
		s.logger.Error("usage query failed", "owner", owner, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}

	type usageEntry struct {
		ReadmeID  string    `json:"readme_id,omitempty"`
		Filename  string    `json:"filename"`
		Model     string    `json:"model"`
		Tokens    int64     `json:"tokens"`
		Partial   bool      `json:"partial"`
		CreatedAt time.Time `json:"created_at"`
	}
	entries := make([]usageEntry, 0, len(stats.Entries))
	for _, e := range stats.Entries {
		entry := usageEntry{
			Filename:  e.Filename,
			Model:     e.Model,
			Tokens:    e.Tokens,
			Partial:   e.Partial,
			CreatedAt: e.CreatedAt,
		}
		if e.ReadmeID.Valid {
			entry.ReadmeID = e.ReadmeID.UUID.String()
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_tokens":      stats.TotalTokens,
		"total_generations": stats.TotalGenerations,
		"daily_tokens":      stats.DailyTokens,
		"daily_generations": stats.DailyGenerations,
		"entries":           entries,
	})
}

func (s *Server) saveAPIKey(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		jsonError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	if err := s.records.SaveAPIKey(r.Context(), owner, req.APIKey); err != nil {
		s.logger.Error("save api key failed", "owner", owner, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) getAPIKey(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	key, err := s.records.GetAPIKey(r.Context(), owner)
	if err != nil {
		s.logger.Error("get api key failed", "owner", owner, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to load key")
		return
	}
	// The key itself is never echoed back, only whether one is stored.
	writeJSON(w, http.StatusOK, map[string]bool{"has_key": key != ""})
}

func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if err := s.records.DeleteAPIKey(r.Context(), owner); err != nil {
		s.logger.Error("delete api key failed", "owner", owner, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	del, err := s.records.DeleteAccount(r.Context(), owner)
	if err != nil {
		s.logger.Error("account deletion failed", "owner", owner, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}
	// Cached records for this owner are unreachable after deletion, but purge
	// anyway so memory is not held.
	s.cache.Purge()
	writeJSON(w, http.StatusOK, map[string]any{"deleted": del})
}
