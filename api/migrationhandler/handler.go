// Package migrationhandler serves the migration API: backup service
// registration, migration state and the authenticated key-share export.
package migrationhandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaiss/mpc/api/httputil"
	"github.com/shaiss/mpc/cryptoutils"
	"github.com/shaiss/mpc/directory"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/migration"
)

// RegisterRequest registers a backup-custody service key for a node.
type RegisterRequest struct {
	Account   interfaces.AccountID `json:"node_id"`
	PublicKey string               `json:"public_key"`
	Supersede bool                 `json:"supersede,omitempty"`
}

// ExportResponse carries a sealed share package and its export record.
type ExportResponse struct {
	Sealed   []byte                     `json:"sealed_keyshares"`
	Record   interfaces.MigrationRecord `json:"record"`
	Location string                     `json:"location,omitempty"`
}

// Handler serves the migration API.
type Handler struct {
	dir      *directory.Directory
	exporter *migration.Exporter
	log      *slog.Logger
}

// NewHandler creates a migration API handler.
func NewHandler(dir *directory.Directory, exporter *migration.Exporter, log *slog.Logger) *Handler {
	return &Handler{dir: dir, exporter: exporter, log: log}
}

// RegisterRoutes mounts the handler's routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/migration/backup-info", h.HandleRegisterBackupInfo)
	r.Get("/api/v1/migration/info/{account}", h.HandleMigrationInfo)
	r.Post("/api/v1/migration/export-keyshares", h.HandleExport)
}

// HandleRegisterBackupInfo records a node's backup service key.
func (h *Handler) HandleRegisterBackupInfo(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key, err := cryptoutils.NewBackupPubkeyFromString(req.PublicKey)
	if err != nil {
		http.Error(w, "Invalid public key: "+err.Error(), http.StatusBadRequest)
		return
	}
	err = h.dir.RegisterBackupInfo(r.Context(), req.Account,
		interfaces.BackupServiceInfo{PublicKey: key}, req.Supersede)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, map[string]string{"status": "registered"})
}

// HandleMigrationInfo returns a node's migration state.
func (h *Handler) HandleMigrationInfo(w http.ResponseWriter, r *http.Request) {
	account := interfaces.AccountID(chi.URLParam(r, "account"))
	if err := account.Validate(); err != nil {
		http.Error(w, "Invalid account ID", http.StatusBadRequest)
		return
	}
	info, err := h.dir.MigrationInfo(r.Context(), account)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, info)
}

// HandleExport serves an authenticated one-shot key-share export.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var req migration.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.exporter.Export(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, ExportResponse{
		Sealed:   result.Sealed,
		Record:   result.Record,
		Location: result.Location,
	})
}
