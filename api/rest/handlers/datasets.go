package handlers

import (
	"errors"
	"io"
	"net/http"

	"tunespace/core/models"
	"tunespace/storage"

	"github.com/rs/zerolog"
)

// DatasetStore persists uploaded training data
type DatasetStore interface {
	Save(name string, r io.Reader) (models.DatasetInfo, error)
	List() ([]models.DatasetInfo, error)
}

// DefaultMaxUploadBytes caps dataset uploads
const DefaultMaxUploadBytes = 512 << 20

// DatasetHandler handles dataset upload and listing
type DatasetHandler struct {
	store    DatasetStore
	maxBytes int64
	log      *zerolog.Logger
}

// NewDatasetHandler creates a new dataset handler
func NewDatasetHandler(store DatasetStore, maxBytes int64, log *zerolog.Logger) *DatasetHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &DatasetHandler{store: store, maxBytes: maxBytes, log: log}
}

// UploadDataset handles POST /api/data/upload with a multipart "file" field
func (h *DatasetHandler) UploadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	info, err := h.store.Save(header.Filename, file)
	switch {
	case errors.Is(err, storage.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, "Only JSON, CSV, and JSONL files are supported")
		return
	case errors.Is(err, storage.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Invalid file name")
		return
	case err != nil:
		h.log.Error().Err(err).Str("filename", header.Filename).Msg("failed to store dataset")
		writeError(w, http.StatusInternalServerError, "Failed to store dataset")
		return
	}

	h.log.Info().Str("filename", info.Name).Int64("size", info.Size).Msg("dataset uploaded")
	writeJSON(w, http.StatusOK, map[string]string{"filename": info.Name, "path": info.Path})
}

// ListDatasets handles GET /api/data/datasets
func (h *DatasetHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.store.List()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list datasets")
		writeError(w, http.StatusInternalServerError, "Failed to list datasets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": datasets})
}
