// Package thread defines the conversation thread entity.
package thread

import "time"

// DefaultTitle is the placeholder title given to a thread at creation,
// before the automatic title-generation pass has rewritten it.
const DefaultTitle = "New Conversation"

// Thread is a persisted conversation container owned by one user.
// At most one non-archived thread per user drives "continue last
// conversation" flows; archiving happens as a side effect of creating a
// new thread through the pregenerated path.
type Thread struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreatedBy  string    `json:"created_by"`
	IsArchived bool      `json:"is_archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TitleGenerated reports whether the automatic title pass has already
// rewritten this thread's title. The flag is not persisted; it is
// re-derived from the title itself.
func (t *Thread) TitleGenerated() bool {
	return t.Title != "" && t.Title != DefaultTitle
}
