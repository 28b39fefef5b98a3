package models

import "time"

type CommandType string

// refresh включает постоянную пересборку ордеров, clear_refresh выключает её,
// single_refresh пересобирает один раз.
const (
	CommandRefresh       CommandType = "refresh"
	CommandSingleRefresh CommandType = "single_refresh"
	CommandClearRefresh  CommandType = "clear_refresh"
	CommandStopRepeat    CommandType = "stop_repeat"
)

type CommandStatus string

const (
	CommandQueued CommandStatus = "queued"
	CommandPicked CommandStatus = "picked"
	CommandDone   CommandStatus = "done"
	CommandFailed CommandStatus = "failed"
)

// Command операторская команда для работающего движка.
type Command struct {
	ID        string        `json:"id"`
	UserID    int64         `json:"user_id"`
	Type      CommandType   `json:"type"`
	Status    CommandStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	PickedAt  time.Time     `json:"picked_at"`
	PickedBy  string        `json:"picked_by"`
	Error     string        `json:"error"`
}
