package database

import "time"

// SessionRecord is the persisted form of a session. The in-memory state
// machine in internal/session is authoritative while the process runs; rows
// are re-synchronized against the engine at startup.
type SessionRecord struct {
	ID             string    `gorm:"primaryKey;size:128" json:"id"`
	ProjectName    string    `gorm:"not null" json:"project_name"`
	Slug           string    `gorm:"not null" json:"slug"`
	RepoURL        string    `json:"repo_url"`
	Directory      string    `gorm:"not null" json:"directory"`
	Port           int       `gorm:"not null" json:"port"`
	ContainerRef   string    `json:"container_ref"`
	State          string    `gorm:"not null;default:pending" json:"state"`
	Password       string    `json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
