package domain

// Presence mirrors the durable account_status record. The realtime core only
// ever writes it as a fire-and-forget side effect; LastSeen is millis.
type Presence struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"`
}
