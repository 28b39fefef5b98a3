package supervisor

import (
	"errors"
	"time"

	"grid_bot/internal/models"
)

var (
	ErrAlreadyRunning     = errors.New("bot is already running")
	ErrMissingCredentials = errors.New("exchange credentials are missing")
	ErrNotRunning         = errors.New("bot is not running")
)

// значения StartResult.Status
const (
	StartStarted            = "started"
	StartAlreadyRunning     = "already_running"
	StartMissingCredentials = "missing_credentials"
	StartError              = "error"
)

type StartResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
	RunID   string `json:"run_id,omitempty"`
}

type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StatusResult struct {
	UserID        int64            `json:"user_id"`
	Running       bool             `json:"running"`
	Status        models.RunStatus `json:"status"`
	RunID         string           `json:"run_id,omitempty"`
	State         string           `json:"state,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	LastError     string           `json:"last_error,omitempty"`
	LastHeartbeat *time.Time       `json:"last_heartbeat,omitempty"`
	RestartCount  int              `json:"restart_count"`
}

type RecoverResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Actions []string `json:"actions"`
}

type Totals struct {
	Managed int `json:"managed"`
	Running int `json:"running"`
}

type AdminStatuses struct {
	Users  []StatusResult `json:"users"`
	Totals Totals         `json:"totals"`
}

func statusFromRecord(rec models.RunStatusRecord) StatusResult {
	res := StatusResult{
		UserID:       rec.UserID,
		Status:       rec.Status,
		RunID:        rec.RunID,
		State:        rec.State,
		LastError:    rec.LastError,
		RestartCount: rec.RestartCount,
	}
	if res.Status == "" {
		res.Status = models.StatusStopped
	}
	if !rec.LastHeartbeat.IsZero() {
		hb := rec.LastHeartbeat
		res.LastHeartbeat = &hb
	}
	return res
}

func statusFromHandle(h *RunHandle, now time.Time) StatusResult {
	res := StatusResult{
		UserID:        h.UserID,
		Running:       true,
		Status:        models.StatusRunning,
		RunID:         h.RunID,
		State:         h.State().String(),
		UptimeSeconds: int64(now.Sub(h.StartedAt).Seconds()),
		LastError:     h.LastError(),
		RestartCount:  h.restartCount,
	}
	if hb := h.LastHeartbeat(); !hb.IsZero() {
		res.LastHeartbeat = &hb
	}
	return res
}
