package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	componentOK            = "ok"
	componentUnavailable   = "unavailable"
	componentNotConfigured = "not_configured"
)

type healthResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Database string `json:"database"`
	CRM      string `json:"crm"`
}

// Health は DB 疎通と CRM 認証情報の有無を返す。
// DB が落ちていれば 503、CRM 未設定だけなら 200 の degraded。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Message:  "ApexDeliver Leads API",
		Database: componentOK,
		CRM:      componentOK,
	}
	code := http.StatusOK

	if h.crm != nil {
		if err := h.crm.CheckConfig(); err != nil {
			resp.Status = "degraded"
			resp.CRM = componentNotConfigured
		}
	}
	if err := h.db.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Message = "database unavailable"
		resp.Database = componentUnavailable
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
