package session

import "time"

// Session holds per-user conversation state across webhook turns.
type Session struct {
	ID             string    `json:"id"`
	ExternalUserID string    `json:"externalUserId"`
	Active         bool      `json:"active"`
	Context        Context   `json:"context"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Context is the open key-value state the bot engine threads across turns.
// Its keys are owned by the action graph, not by this service, so values stay
// untyped and round-trip the JSON boundary as-is.
type Context map[string]any

// Clone returns a shallow copy so callers can mutate without aliasing the
// stored map.
func (c Context) Clone() Context {
	copied := make(Context, len(c))
	for k, v := range c {
		copied[k] = v
	}
	return copied
}

// String returns the value under key if it is a string.
func (c Context) String(key string) (string, bool) {
	v, ok := c[key].(string)
	return v, ok
}

// Bool returns the value under key if it is a bool.
func (c Context) Bool(key string) (bool, bool) {
	v, ok := c[key].(bool)
	return v, ok
}
