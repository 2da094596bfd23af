// upload.go — обработчик POST /api/upload.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/file-drop/internal/api/errors"
	"github.com/bigkaa/goartstore/file-drop/internal/service"
)

type uploadedFileJSON struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type uploadResponse struct {
	ID        string             `json:"id"`
	URL       string             `json:"url"`
	Password  string             `json:"password,omitempty"`
	ExpiresAt time.Time          `json:"expiresAt"`
	IsBatch   bool               `json:"isBatch"`
	Files     []uploadedFileJSON `json:"files"`
}

// Upload принимает multipart/form-data и потоково сохраняет файлы.
func (h *APIHandler) Upload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается тело multipart/form-data")
		return
	}

	result, err := h.uploader.Ingest(r.Context(), mr)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUploadResponse(result))
}

func toUploadResponse(result *service.UploadResult) uploadResponse {
	resp := uploadResponse{
		ID:        result.ID,
		URL:       result.URL,
		Password:  result.Password,
		ExpiresAt: result.ExpiresAt,
		IsBatch:   result.IsBatch,
		Files:     make([]uploadedFileJSON, 0, len(result.Files)),
	}
	for _, f := range result.Files {
		resp.Files = append(resp.Files, uploadedFileJSON{ID: f.ID, Filename: f.Filename, Size: f.Size})
	}
	return resp
}
