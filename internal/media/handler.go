package media

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/portfolio/internal/telemetry/tracing"
	"github.com/2beens/portfolio/pkg"
)

// UploadedFile is returned by the standalone upload endpoint.
type UploadedFile struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Slot  Slot   `json:"slot"`
}

type Handler struct {
	service        *Service
	diskStore      *DiskStore // nil unless media lives on the local disk
	maxUploadBytes int64
	tempDir        string
}

func NewHandler(service *Service, diskStore *DiskStore, maxUploadBytes int64, tempDir string) *Handler {
	return &Handler{
		service:        service,
		diskStore:      diskStore,
		maxUploadBytes: maxUploadBytes,
		tempDir:        tempDir,
	}
}

func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/media/{slot}", h.HandleUpload).Methods("POST", "OPTIONS").Name("upload-media")
	if h.diskStore != nil {
		router.HandleFunc(FilesRoutePrefix+"/{folder}/{name}", h.HandleGetFile).Methods("GET").Name("get-media-file")
	}
}

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.media.upload")
	defer span.End()

	slot, err := ParseSlot(mux.Vars(r)["slot"])
	if err != nil {
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		log.Errorf("media upload, parse multipart form: %s", err)
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	fileHeaders := r.MultipartForm.File["file"]
	if len(fileHeaders) == 0 {
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "file is required")
		return
	}

	staged, err := StageMultipart(fileHeaders[0], slot, h.tempDir)
	if err != nil {
		log.Errorf("media upload, stage file: %s", err)
		pkg.WriteErrorResponse(w, http.StatusInternalServerError, "internal", "failed to read file")
		return
	}

	url, err := h.service.Upload(ctx, staged)
	if err != nil {
		log.Errorf("media upload: %s", err)
		pkg.WriteErrorResponse(w, http.StatusBadGateway, "upload_failed", "media upload failed")
		return
	}

	pkg.WriteJSON(w, UploadedFile{
		Title: staged.OriginalName,
		URL:   url,
		Slot:  slot,
	}, http.StatusCreated)
}

func (h *Handler) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.media.getFile")
	defer span.End()

	vars := mux.Vars(r)
	filePath, err := h.diskStore.FilePath(vars["folder"], vars["name"])
	if errors.Is(err, ErrInvalidFile) {
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid file path")
		return
	}
	if err != nil {
		pkg.WriteErrorResponse(w, http.StatusNotFound, "not_found", "file not found")
		return
	}

	http.ServeFile(w, r, filePath)
}
