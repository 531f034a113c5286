package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event is the AutoMigrate schema for events, the table
// internal/events.PostgresStore bulk-inserts into via database/sql.
type Event struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID   uuid.UUID      `gorm:"type:uuid;column:batch_id;not null;index" json:"batch_id"`
	JobID     *uuid.UUID     `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	SessionID *string        `gorm:"column:session_id;index" json:"session_id,omitempty"`
	Type      string         `gorm:"column:type;not null;index" json:"type"`
	Data      datatypes.JSON `gorm:"type:jsonb;column:data;not null;default:'{}'" json:"data"`
	Timestamp time.Time      `gorm:"column:timestamp;not null;index" json:"timestamp"`
	Metadata  datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;default:now()" json:"created_at"`
}

func (Event) TableName() string { return "events" }
