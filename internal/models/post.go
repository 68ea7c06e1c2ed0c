package models

import "time"

// Post is a forum post. Posts are owned by the forum domain; the identity core only
// counts them per author.
type Post struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    uint64    `json:"user_id" gorm:"index;not null"`
	TopicID   uint64    `json:"topic_id" gorm:"index;not null"`
	Body      string    `json:"body" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
