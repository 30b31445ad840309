package domain

import "time"

// ContainerState is reported by agents for a named container.
type ContainerState string

const (
	ContainerUp        ContainerState = "up"
	ContainerDown      ContainerState = "down"
	ContainerHeartbeat ContainerState = "heartbeat"
)

// StatusEvent records a container state report.
type StatusEvent struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	UserID        *string        `json:"user_id"`
	ContainerName string         `json:"container_name"`
	State         ContainerState `json:"state"`
	CreatedAt     time.Time      `json:"created_at"`
}

// UptimeCheck is an externally computed availability percentage.
type UptimeCheck struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	UserID     *string   `json:"user_id"`
	Percentage float64   `json:"percentage"`
	CreatedAt  time.Time `json:"created_at"`
}
