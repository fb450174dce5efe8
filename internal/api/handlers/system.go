// system.go — обработчик GET /api/v1/info (информация об экземпляре medarchive).
// Публичный endpoint (без аутентификации) для мониторинга.
package handlers

import (
	"net/http"

	"github.com/bigkaa/medarchive/internal/config"
)

// DiskUsageFunc возвращает ёмкость диска каталога данных в байтах.
type DiskUsageFunc func() (total, used, available int64, err error)

// MaintenanceRole — роль экземпляра в фоновом обслуживании хранилища.
type MaintenanceRole interface {
	IsLeader() bool
	Owner() string
}

// maintenanceInfo — кто выполняет reconciliation и GC.
type maintenanceInfo struct {
	Leader bool   `json:"leader"`
	Owner  string `json:"owner,omitempty"`
}

// capacityInfo — ёмкость диска MA_DATA_DIR.
type capacityInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// systemInfo — ответ GET /api/v1/info.
type systemInfo struct {
	Service          string           `json:"service"`
	Version          string           `json:"version"`
	RetentionYears   int              `json:"retention_years"`
	MaxFileSize      int64            `json:"max_file_size"`
	AllowedMimeTypes []string         `json:"allowed_mime_types"`
	AuthEnabled      bool             `json:"auth_enabled"`
	OCREnabled       bool             `json:"ocr_enabled"`
	BackupEnabled    bool             `json:"backup_enabled"`
	Capacity         *capacityInfo    `json:"capacity,omitempty"`
	Maintenance      *maintenanceInfo `json:"maintenance,omitempty"`
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	diskUsage DiskUsageFunc
	role      MaintenanceRole
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage и role могут быть nil — соответствующие поля не сообщаются.
func NewSystemHandler(cfg *config.Config, diskUsage DiskUsageFunc, role MaintenanceRole) *SystemHandler {
	return &SystemHandler{cfg: cfg, diskUsage: diskUsage, role: role}
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	resp := systemInfo{
		Service:          "medarchive",
		Version:          config.Version,
		RetentionYears:   h.cfg.RetentionYears,
		MaxFileSize:      h.cfg.MaxFileSize,
		AllowedMimeTypes: h.cfg.AllowedMimeTypes,
		AuthEnabled:      h.cfg.AuthEnabled(),
		OCREnabled:       h.cfg.OCRCommand != "",
		BackupEnabled:    h.cfg.BackupEndpoint != "",
	}

	if h.diskUsage != nil {
		if total, used, available, err := h.diskUsage(); err == nil {
			resp.Capacity = &capacityInfo{
				TotalBytes:     total,
				UsedBytes:      used,
				AvailableBytes: available,
			}
		}
	}

	if h.role != nil {
		resp.Maintenance = &maintenanceInfo{Leader: h.role.IsLeader(), Owner: h.role.Owner()}
	}

	writeJSON(w, http.StatusOK, resp)
}
