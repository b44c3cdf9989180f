package model

import "time"

// ServerInstance is one running copy of the orchestrator, handling a
// subset of devices. The row is shared by the whole fleet; only the
// owning process writes its own heartbeat.
type ServerInstance struct {
	ID            string    `json:"id"`
	Active        bool      `json:"active"`
	Healthy       bool      `json:"healthy"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CurrentLoad   int       `json:"current_load"`
	Priority      int       `json:"priority"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
