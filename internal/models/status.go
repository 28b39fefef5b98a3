package models

import "time"

type RunStatus string

const (
	StatusRunning       RunStatus = "running"
	StatusStopped       RunStatus = "stopped"
	StatusCompleted     RunStatus = "completed"
	StatusSafetyStopped RunStatus = "safety_stopped"
	StatusError         RunStatus = "error"
	StatusFailed        RunStatus = "failed"
)

// RunStatusRecord строка user_bots.
type RunStatusRecord struct {
	UserID        int64     `json:"user_id"`
	Status        RunStatus `json:"status"`
	RunID         string    `json:"run_id"`
	State         string    `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastError     string    `json:"last_error"`
	RestartCount  int       `json:"restart_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}
