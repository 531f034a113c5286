package types

import "time"

// AllowlistEntry is the AutoMigrate schema backing
// rules.PostgresAllowlistService: the durable allowlist AllowlistChecker's
// LRU+TTL cache sits in front of.
type AllowlistEntry struct {
	Domain    string    `gorm:"column:domain;primaryKey" json:"domain"`
	Allowed   bool      `gorm:"column:allowed;not null;default:false" json:"allowed"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
}

func (AllowlistEntry) TableName() string { return "allowlist_entries" }
