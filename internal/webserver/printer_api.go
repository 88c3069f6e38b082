package webserver

import (
	"net/http"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/output"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"github.com/ichi0g0y/stimky-sticker/internal/status"
	"go.uber.org/zap"
)

type BluetoothDevice struct {
	MACAddress string    `json:"mac_address"`
	Name       string    `json:"name,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
}

type ScanResponse struct {
	Devices []BluetoothDevice `json:"devices"`
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
}

// handlePrinterStatus プリンターの状態を返す
func (s *Server) handlePrinterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := s.svc.Printer()
	supported := []string{}
	for _, l := range p.SupportedLabels() {
		supported = append(supported, l.Name)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"printer":          p.Name(),
		"kind":             p.Kind(),
		"label":            p.Label().Name,
		"supported_labels": supported,
		"status":           status.Get(),
		"ws_clients":       s.hub.ClientCount(),
	})
}

// handlePrinterScan Bluetoothプリンターのスキャンを実行（管理者のみ）
func (s *Server) handlePrinterScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.isAdmin(r) {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}

	logger.Info("Starting printer scan")
	devices, err := output.ScanCatPrinters(10 * time.Second)

	response := ScanResponse{
		Devices: []BluetoothDevice{},
		Status:  "success",
	}
	if err != nil {
		logger.Error("Device scan failed", zap.Error(err))
		response.Status = "error"
		response.Message = err.Error()
	} else {
		for mac, name := range devices {
			response.Devices = append(response.Devices, BluetoothDevice{
				MACAddress: mac,
				Name:       name,
				LastSeen:   time.Now(),
			})
		}
		logger.Info("Device scan completed", zap.Int("device_count", len(devices)))
	}

	writeJSON(w, http.StatusOK, response)
}
