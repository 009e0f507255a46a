package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Xenovative/PMBot/internal/domain"
)

// archiveKinds are the record families the retention job exports.
var archiveKinds = map[string]bool{
	"trades": true,
	"merges": true,
	"scans":  true,
}

// ArchiveHandler serves the archived history stored in the S3 bucket.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// List returns the archive files of one record kind.
// GET /api/archives/{kind}
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := pathParam(r, "kind")
	if !archiveKinds[kind] {
		writeError(w, http.StatusBadRequest, "kind must be trades, merges, or scans")
		return
	}

	infos, err := h.blobs.List(r.Context(), "archive/"+kind+"/")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive listing failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	type fileView struct {
		Path         string `json:"path"`
		Size         int64  `json:"size"`
		LastModified string `json:"last_modified"`
	}
	views := make([]fileView, 0, len(infos))
	for _, info := range infos {
		views = append(views, fileView{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":  kind,
		"files": views,
	})
}

// Download streams one archive file.
// GET /api/archives/{kind}/{month}  (month as YYYY-MM)
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	kind := pathParam(r, "kind")
	month := pathParam(r, "month")
	if !archiveKinds[kind] || strings.ContainsAny(month, "/\\") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	path := "archive/" + kind + "/" + month + ".jsonl"
	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "archive download failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
