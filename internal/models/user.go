package models

import "time"

// User is a signed-in mailbox owner. ID is the Graph object id.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	TimeZone    string    `json:"time_zone"` // Windows zone name, e.g. "Pacific Standard Time"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
