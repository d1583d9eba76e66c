package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	DecisionID string    `json:"decision_id"`
	PacketType int       `json:"packet_type"` // 1 probe, 2 data
	PacketSize int       `json:"packet_size"`
	Reason     string    `json:"reason"` // "idle_interval" | "high_per" | "directional"
	RadarAngle *int      `json:"radar_angle,omitempty"`
	BeamAngle  *int      `json:"beam_angle,omitempty"`
	Reward     *float64  `json:"reward,omitempty"`
	PER        *float64  `json:"per,omitempty"`
	DataSNR    *float64  `json:"data_snr,omitempty"`
	DetailJSON string    `json:"detail_json,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// #endregion decision-entry

// #region tick-record
// TickRecord is the JSON stored in decision_log.detail_json: the inputs the
// controller saw when it emitted the command.
type TickRecord struct {
	RadarTimestamp string  `json:"radar_timestamp,omitempty"`
	CommTimestamp  string  `json:"comm_timestamp,omitempty"`
	RadarAngleRaw  float64 `json:"radar_angle_raw"`
	Context        int     `json:"context"`
	Action         int     `json:"action"`
	ContextClamped bool    `json:"context_clamped,omitempty"`
	Updated        bool    `json:"updated"`
	PrevContext    int     `json:"prev_context,omitempty"`
	PrevAction     int     `json:"prev_action,omitempty"`
	GateDetail     string  `json:"gate_detail,omitempty"`
}

// #endregion tick-record
