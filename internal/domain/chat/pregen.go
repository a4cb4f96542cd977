package chat

import "time"

// Pregenerated is a precomputed welcome exchange for one user: a hidden
// priming message and the assistant reply to it. Rows are produced ahead
// of need by the maintenance loop and consumed exactly once when a new
// thread is created through the pregenerated path. Unused rows are
// harmless and simply age out of relevance.
type Pregenerated struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	HiddenMessage string     `json:"hidden_message"`
	AIResponse    string     `json:"ai_response"`
	IsUsed        bool       `json:"is_used"`
	CreatedAt     time.Time  `json:"created_at"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
}
