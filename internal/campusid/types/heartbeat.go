package types

import "time"

type HeartbeatRequest struct {
	ScannerID           string     `json:"scanner_id"`
	FirmwareVersion     string     `json:"firmware_version,omitempty"`
	UptimeSeconds       uint64     `json:"uptime_s,omitempty"`
	SnapshotGeneratedAt *time.Time `json:"snapshot_generated_at,omitempty"`
	QueueDepth          int        `json:"queue_depth,omitempty"`
	IP                  string     `json:"ip,omitempty"`
}

type HeartbeatResponse struct {
	OK         bool   `json:"ok"`
	Known      bool   `json:"known"`
	ScannerID  string `json:"scanner_id"`
	ServerTime string `json:"server_time"`

	// SnapshotStale tells the scanner to fetch a newer offline snapshot.
	SnapshotStale bool `json:"snapshot_stale,omitempty"`
}
