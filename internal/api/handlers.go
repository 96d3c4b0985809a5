package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"inveni/internal/diff"
	"inveni/internal/errors"
	"inveni/internal/journal"
	"inveni/internal/logging"
	"inveni/internal/monitor"
	"inveni/internal/safe"
	"inveni/internal/validation"
	"inveni/internal/vault"
	"inveni/shared/types"

	"go.uber.org/zap"
)

const defaultJournalLimit = 50

// Service is the subset of the vault the handlers expose.
type Service interface {
	Track(path string) error
	Untrack(path string)
	Reset(path string) error
	Pause()
	Resume()
	Status() vault.Status
	FileStatus(path string) (monitor.FileStatus, bool)
	SetRestoring(path string, restoring bool)
	Commit(ctx context.Context, path, message string, confirm vault.Confirmer) (*vault.CommitResult, error)
	Restore(ctx context.Context, path, hash string) error
	History(path string) ([]vault.HistoryEntry, error)
	VersionContent(path, hash string) ([]byte, error)
	BackupExists(path, hash string) bool
	Diff(path, from, to string) (*diff.DiffResult, error)
	Journal(path string, limit int) ([]journal.Entry, error)
	Tracked() []string
	Blobs(path string) ([]safe.Blob, error)
	BackupCount(path string) int
	ClearPending()
	ClearMissingCache()
}

type Handler struct {
	svc    Service
	logger *logging.Logger
}

func NewHandler(svc Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /api/watch", h.Watch)
	mux.HandleFunc("POST /api/unwatch", h.Unwatch)
	mux.HandleFunc("POST /api/reset", h.Reset)
	mux.HandleFunc("POST /api/pause", h.Pause)
	mux.HandleFunc("POST /api/resume", h.Resume)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("POST /api/restoring", h.Restoring)
	mux.HandleFunc("GET /api/tracked", h.Tracked)
	mux.HandleFunc("POST /api/pending/clear", h.ClearPending)

	mux.HandleFunc("POST /api/commit", h.Commit)
	mux.HandleFunc("POST /api/restore", h.Restore)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /api/content", h.Content)
	mux.HandleFunc("GET /api/exists", h.Exists)
	mux.HandleFunc("GET /api/blobs", h.Blobs)
	mux.HandleFunc("POST /api/cache/clear", h.ClearCache)
	mux.HandleFunc("GET /api/diff", h.Diff)
	mux.HandleFunc("GET /api/journal", h.Journal)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := errors.As(err)
	if !ok {
		e = errors.Internal(err.Error())
	}
	if e.Code >= http.StatusInternalServerError {
		h.logger.WithRequestID(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, e.Code, types.ErrorResponse{
		Type:    string(e.Type),
		Message: err.Error(),
		Code:    e.Code,
		Details: e.Details,
	})
}

func (h *Handler) pathBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req types.PathRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return req.Path, true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.Health{Status: "healthy"})
}

func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	path, ok := h.pathBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.Track(path); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Unwatch(w http.ResponseWriter, r *http.Request) {
	path, ok := h.pathBody(w, r)
	if !ok {
		return
	}
	h.svc.Untrack(path)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	path, ok := h.pathBody(w, r)
	if !ok {
		return
	}
	if err := h.svc.Reset(path); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.svc.Pause()
	writeJSON(w, http.StatusOK, statusBody(h.svc.Status()))
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.svc.Resume()
	writeJSON(w, http.StatusOK, statusBody(h.svc.Status()))
}

func statusBody(s vault.Status) types.Status {
	return types.Status{
		Paused:       s.Paused,
		PendingCount: s.PendingCount,
		PendingPaths: s.PendingPaths,
		Watched:      s.Watched,
		Restoring:    s.Restoring,
		Tracked:      s.Tracked,
	}
}

// Status reports the detector state, or a single file's state when a path
// query parameter is given.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusOK, statusBody(h.svc.Status()))
		return
	}

	fs, ok := h.svc.FileStatus(path)
	if !ok {
		h.writeError(w, r, errors.NotFound("file is not watched"))
		return
	}
	writeJSON(w, http.StatusOK, types.FileStatus{
		Path:      fs.Path,
		Hash:      fs.Hash,
		ModTime:   fs.ModTime,
		Size:      fs.Size,
		Open:      fs.Open,
		LastCheck: fs.LastCheck,
		Restoring: fs.Restoring,
		Pending:   fs.Pending,
		Backups:   h.svc.BackupCount(fs.Path),
	})
}

// ClearPending drops every reported change and returns the new status.
func (h *Handler) ClearPending(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearPending()
	writeJSON(w, http.StatusOK, statusBody(h.svc.Status()))
}

func (h *Handler) Restoring(w http.ResponseWriter, r *http.Request) {
	var req types.RestoringRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.svc.SetRestoring(req.Path, req.Restoring)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Tracked(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Tracked())
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req types.CommitRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	confirm := vault.NeverConfirm
	if req.Force {
		confirm = vault.AlwaysConfirm
	}
	res, err := h.svc.Commit(r.Context(), req.Path, req.Message, confirm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, types.CommitResponse{
		Path:         res.Path,
		Hash:         res.Hash,
		PreviousHash: res.PreviousHash,
		Evicted:      res.Evicted,
		FirstCommit:  res.FirstCommit,
		Timestamp:    res.Record.Timestamp.String(),
	})
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var req types.RestoreRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Restore(r.Context(), req.Path, req.Hash); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if err := validation.Required("path", path); err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, err := h.svc.History(path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]types.Version, 0, len(entries))
	for _, e := range entries {
		v := types.Version{
			Hash:          e.Hash,
			Timestamp:     e.Timestamp.String(),
			CommitMessage: e.CommitMessage,
			Username:      e.Username,
			Size:          e.Metadata.Size,
			FileType:      e.Metadata.FileType,
			Available:     e.Available,
		}
		if e.PreviousHash != nil {
			v.PreviousHash = *e.PreviousHash
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) pathAndHash(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	path, hash := q.Get("path"), q.Get("hash")
	if err := validation.Required("path", path); err != nil {
		h.writeError(w, r, err)
		return "", "", false
	}
	if err := validation.Hash("hash", hash); err != nil {
		h.writeError(w, r, err)
		return "", "", false
	}
	return path, hash, true
}

// Content streams the raw bytes of a stored version.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	path, hash, ok := h.pathAndHash(w, r)
	if !ok {
		return
	}
	data, err := h.svc.VersionContent(path, hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (h *Handler) Exists(w http.ResponseWriter, r *http.Request) {
	path, hash, ok := h.pathAndHash(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, types.ExistsResponse{Exists: h.svc.BackupExists(path, hash)})
}

func (h *Handler) Blobs(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if err := validation.Required("path", path); err != nil {
		h.writeError(w, r, err)
		return
	}

	blobs, err := h.svc.Blobs(path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]types.Blob, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, types.Blob{Hash: b.Hash, Size: b.Size, ModTime: b.ModTime})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearMissingCache()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path, from := q.Get("path"), q.Get("from")
	if err := validation.Required("path", path); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.Hash("from", from); err != nil {
		h.writeError(w, r, err)
		return
	}
	to := q.Get("to")
	if to != "" {
		if err := validation.Hash("to", to); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	res, err := h.svc.Diff(path, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Diff{
		OldName:   res.OldName,
		NewName:   res.NewName,
		Binary:    res.Binary,
		Additions: res.Stats.Additions,
		Deletions: res.Stats.Deletions,
		Unified:   res.Format(),
	})
}

func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultJournalLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, r, errors.ValidationError("limit must be a non-negative integer", s))
			return
		}
		limit = n
	}

	entries, err := h.svc.Journal(q.Get("path"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]types.JournalEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.JournalEntry{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Path:      e.Path,
			Hash:      e.Hash,
			Message:   e.Message,
			Username:  e.Username,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
