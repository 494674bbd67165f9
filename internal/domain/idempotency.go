package domain

import "time"

// Idempotency records the outcome of a completed unsafe request, keyed by
// (user_id, counterpart_id, key). A retry with the same key replays the
// stored body instead of re-running side effects such as generating another
// AI reply or another match request.
type Idempotency struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_counterpart_key,priority:1"`
	CounterpartID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_counterpart_key,priority:2"`
	Key           string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_counterpart_key,priority:3"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	Body          string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// KVEntry is one persisted key of the legacy key/value layout
// ("chat_<id>", "real_chat_<id>", "userMatches", "userPreferences", ...).
type KVEntry struct {
	Key       string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Value     string    `gorm:"type:TEXT NOT NULL"`
	UpdatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (KVEntry) TableName() string { return "kv_entries" }
