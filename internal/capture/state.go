package capture

import (
	"time"

	"codeberg.org/mutker/pdctl/internal/pd"
	"codeberg.org/mutker/pdctl/internal/store"
)

type State uint8

const (
	StateDisconnected State = iota
	StateIdle
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "disconnected"
	}
}

// Connected reports whether a worker is attached
func (s State) Connected() bool {
	return s != StateDisconnected
}

// AutoPauseStatus mirrors the controller configuration and state
type AutoPauseStatus struct {
	Enabled          bool    `json:"enabled"`
	Metric           string  `json:"metric"`
	Threshold        float64 `json:"threshold"`
	VoltageThreshold float64 `json:"voltage_threshold"`
	CurrentThreshold float64 `json:"current_threshold"`
	DelaySeconds     float64 `json:"delay_seconds"`
	State            string  `json:"state"`
}

// Status is an immutable snapshot published after every change.
type Status struct {
	SessionID     string          `json:"session_id,omitempty"`
	State         string          `json:"state"`
	Records       store.Stats     `json:"records"`
	QueueDepth    int             `json:"queue_depth"`
	QueueDropped  uint64          `json:"queue_dropped"`
	CurrentPDOs   []pd.PDOEntry   `json:"current_pdos"`
	Cable         []pd.CableRow   `json:"cable"`
	AutoPause     AutoPauseStatus `json:"autopause"`
	LastError     string          `json:"last_error,omitempty"`
	LastErrorCode string          `json:"last_error_code,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
