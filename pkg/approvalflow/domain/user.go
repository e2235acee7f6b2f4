package domain

import (
	"database/sql"
)

type User struct {
	ID            int64          `json:"id"`
	Username      string         `json:"username"`
	Password      string         `json:"password"`
	Admin         sql.NullBool   `json:"admin"`
	SessionID     sql.NullString `json:"sessionId"`
	ApiKey        sql.NullString `json:"apiKey"`
	SessionExpiry sql.NullTime   `json:"sessionExpiry"`
	Created       sql.NullTime   `json:"created"`
	Enabled       sql.NullBool   `json:"enabled"`
}

// IsAdmin reports whether the user carries workflow administrator rights,
// which permit rejecting tasks they are not assigned to.
func (u *User) IsAdmin() bool {
	return u.Admin.Valid && u.Admin.Bool
}
