// download.go — обработчики описания, проверки пароля и скачивания.
//
//	GET  /api/download/{id}/info             — сведения без пароля
//	POST /api/download/{id}/verify           — проверка пароля, выдача билета
//	GET  /api/download/{id}                  — скачивание (?ticket= для защищённых)
//	POST /api/download/{id}                  — скачивание с паролем
//	GET|POST /api/download/{id}/files/{fileId} — один файл пакета
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/file-drop/internal/api/errors"
	"github.com/bigkaa/goartstore/file-drop/internal/filename"
	"github.com/bigkaa/goartstore/file-drop/internal/service"
)

// maxPasswordBody — предел размера тела запроса с паролем.
const maxPasswordBody = 4 << 10

type fileInfoJSON struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"sizeHuman"`
}

type descriptionResponse struct {
	ID              string         `json:"id"`
	IsBatch         bool           `json:"isBatch"`
	IsProtected     bool           `json:"isProtected"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	Files           []fileInfoJSON `json:"files"`
	FileCount       int            `json:"fileCount,omitempty"`
	TotalSize       int64          `json:"totalSize,omitempty"`
	TotalSizeHuman  string         `json:"totalSizeHuman,omitempty"`
	Ticket          string         `json:"ticket,omitempty"`
	TicketExpiresAt *time.Time     `json:"ticketExpiresAt,omitempty"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// Info — GET /api/download/{id}/info.
func (h *APIHandler) Info(w http.ResponseWriter, r *http.Request) {
	desc, err := h.access.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDescriptionResponse(desc))
}

// Verify — POST /api/download/{id}/verify.
func (h *APIHandler) Verify(w http.ResponseWriter, r *http.Request) {
	password, err := readPassword(w, r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	desc, err := h.access.Verify(r.Context(), chi.URLParam(r, "id"), password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDescriptionResponse(desc))
}

// Download — GET /api/download/{id} и GET /api/download/{id}/files/{fileId}.
// Пароль в GET не передаётся; для защищённых файлов нужен ?ticket=.
func (h *APIHandler) Download(w http.ResponseWriter, r *http.Request) {
	creds := service.Credentials{Ticket: r.URL.Query().Get("ticket")}
	h.serveDownload(w, r, creds)
}

// DownloadWithPassword — POST /api/download/{id} и POST /api/download/{id}/files/{fileId}.
func (h *APIHandler) DownloadWithPassword(w http.ResponseWriter, r *http.Request) {
	password, err := readPassword(w, r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	h.serveDownload(w, r, service.Credentials{Password: password})
}

func (h *APIHandler) serveDownload(w http.ResponseWriter, r *http.Request, creds service.Credentials) {
	id := chi.URLParam(r, "id")
	member := chi.URLParam(r, "fileId")

	dl, err := h.access.Fetch(r.Context(), id, member, creds)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer dl.Body.Close()

	header := w.Header()
	header.Set("Content-Type", dl.ContentType)
	header.Set("Content-Disposition", filename.ContentDisposition(dl.Filename))
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Cache-Control", "no-store")
	if dl.Size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if n, err := io.Copy(w, dl.Body); err != nil {
		// Заголовки уже отправлены: остаётся только оборвать поток
		h.logger.Warn("Скачивание прервано",
			slog.String("id", id),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
}

// readPassword извлекает пароль из JSON или form-urlencoded тела.
// Пустое тело — пустой пароль.
func readPassword(w http.ResponseWriter, r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	body := http.MaxBytesReader(w, r.Body, maxPasswordBody)

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = body
		if err := r.ParseMultipartForm(maxPasswordBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return "", err
		}
		return r.PostFormValue("password"), nil
	default:
		var req passwordRequest
		err := json.NewDecoder(body).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return req.Password, nil
	}
}

func toDescriptionResponse(desc *service.Description) descriptionResponse {
	resp := descriptionResponse{
		ID:          desc.ID,
		IsBatch:     desc.IsBatch,
		IsProtected: desc.IsProtected,
		ExpiresAt:   desc.ExpiresAt,
		Files:       make([]fileInfoJSON, 0, len(desc.Files)),
		Ticket:      desc.Ticket,
	}
	for _, f := range desc.Files {
		resp.Files = append(resp.Files, fileInfoJSON{
			ID:        f.ID,
			Filename:  f.Filename,
			Size:      f.Size,
			SizeHuman: f.SizeHuman,
		})
	}
	if desc.IsBatch {
		resp.FileCount = len(desc.Files)
		resp.TotalSize = desc.TotalSize
		resp.TotalSizeHuman = desc.TotalSizeHuman
	}
	if desc.Ticket != "" {
		exp := desc.TicketExpiresAt
		resp.TicketExpiresAt = &exp
	}
	return resp
}
