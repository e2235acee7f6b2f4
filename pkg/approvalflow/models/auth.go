package models

// LoginRequest is the JSON payload for session login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	OK       bool   `json:"ok"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}
