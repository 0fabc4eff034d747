package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"blobkeeper/internal/application/service"
	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/client"
	"blobkeeper/internal/platform/messaging/zeromq/message"
)

// ClusterHandler serves the repair protocol to peers: merkle trees,
// differences and bulk range fetches.
type ClusterHandler struct {
	repairService          *service.RepairService
	fileWriterService      *service.FileWriterService
	updateInstancesService *service.UpdateInstancesService
}

func NewClusterHandler(
	repairService *service.RepairService,
	fileWriterService *service.FileWriterService,
	updateInstancesService *service.UpdateInstancesService,
) *ClusterHandler {
	return &ClusterHandler{
		repairService:          repairService,
		fileWriterService:      fileWriterService,
		updateInstancesService: updateInstancesService,
	}
}

func (h *ClusterHandler) MerkleTree(w http.ResponseWriter, r *http.Request) {
	disk, partition, ok := diskAndPartition(w, r)
	if !ok {
		return
	}

	info, err := h.repairService.TreeInfo(disk, partition)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJson(w, client.MerkleTreeInfoMessage{
		Disk:      info.Disk,
		Partition: info.Partition,
		Tree:      info.Tree.Info(),
	})
}

func (h *ClusterHandler) Difference(w http.ResponseWriter, r *http.Request) {
	disk, partition, ok := diskAndPartition(w, r)
	if !ok {
		return
	}

	info, err := h.repairService.Difference(disk, partition)
	if err != nil {
		status := http.StatusInternalServerError
		if service.IsPeerUnavailable(err) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJson(w, client.DifferenceInfoMessage{
		Disk:      info.Disk,
		Partition: info.Partition,
		Ranges:    info.Ranges,
	})
}

func (h *ClusterHandler) FetchRange(w http.ResponseWriter, r *http.Request) {
	disk, partition, ok := diskAndPartition(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var request client.FetchRangeRequest
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	files, err := h.repairService.FetchRange(disk, partition, request.Ranges)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := client.FetchRangeResponse{
		Files: make([]message.ReplicationMessage, 0, len(files)),
	}
	for _, file := range files {
		response.Files = append(response.Files, message.ReplicationMessageFrom(file))
	}
	writeJson(w, response)
}

// Refresh re-scans the disks, attaching writers and triggering repair for
// any new ones.
func (h *ClusterHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.fileWriterService.Refresh()
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "refresh scheduled")
}

func (h *ClusterHandler) UpdateInstances(w http.ResponseWriter, r *http.Request) {
	var instances []domain.Node
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(body, &instances); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.updateInstancesService.Execute(instances)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "instances updated successfully")
}

func diskAndPartition(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	disk, err := strconv.Atoi(chi.URLParam(r, "disk"))
	if err != nil {
		http.Error(w, "invalid disk", http.StatusBadRequest)
		return 0, 0, false
	}
	partition, err := strconv.Atoi(chi.URLParam(r, "partition"))
	if err != nil {
		http.Error(w, "invalid partition", http.StatusBadRequest)
		return 0, 0, false
	}
	return disk, partition, true
}

func writeJson(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	output, err := json.Marshal(value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(output)
}
