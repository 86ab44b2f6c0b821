package models

import "time"

// Redirect maps a short key to its target URL.
type Redirect struct {
	Key       string    `gorm:"column:redirect_key;primaryKey;size:255" json:"key"`
	URL       string    `gorm:"size:2083;not null" json:"url"`
	Hits      int64     `gorm:"not null;default:0" json:"hits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
