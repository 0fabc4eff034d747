package blob

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"blobkeeper/internal/application/service"
)

type BlobHandler struct {
	saveService   *service.SaveBlobService
	getService    *service.GetBlobService
	deleteService *service.DeleteBlobService
}

func NewBlobHandler(
	saveService *service.SaveBlobService,
	getService *service.GetBlobService,
	deleteService *service.DeleteBlobService,
) *BlobHandler {
	return &BlobHandler{
		saveService:   saveService,
		getService:    getService,
		deleteService: deleteService,
	}
}

type SaveBlobResponse struct {
	Id   int64 `json:"id"`
	Type int   `json:"type"`
}

func (h *BlobHandler) SaveBlob(w http.ResponseWriter, r *http.Request) {
	blobType, err := strconv.Atoi(chi.URLParam(r, "type"))
	if err != nil {
		http.Error(w, "invalid blob type", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result := h.saveService.Execute(service.SaveBlobCommand{
		Type:     blobType,
		Data:     body,
		Metadata: r.Header,
	})
	if result.Err != nil {
		http.Error(w, result.Err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusCreated)
	output, _ := json.Marshal(SaveBlobResponse{Id: result.Id, Type: blobType})
	fmt.Fprint(w, string(output))
}

func (h *BlobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid blob id", http.StatusBadRequest)
		return
	}
	blobType, err := strconv.Atoi(chi.URLParam(r, "type"))
	if err != nil {
		http.Error(w, "invalid blob type", http.StatusBadRequest)
		return
	}

	result := h.getService.Execute(service.GetBlobQuery{Id: id, Type: blobType})
	if !result.Found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if result.Err != nil {
		http.Error(w, result.Err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(result.Data)
}

func (h *BlobHandler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid blob id", http.StatusBadRequest)
		return
	}

	result := h.deleteService.Execute(service.DeleteBlobCommand{Id: id})
	if result.Err != nil {
		http.Error(w, result.Err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "deleted %d entries", result.Deleted)
}
