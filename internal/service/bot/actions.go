// Package bot holds the action callbacks the Wit converse loop invokes.
package bot

import (
	"context"
	"fmt"
	"log"

	"github.com/tobrady/witbridge/internal/model/session"
	"github.com/tobrady/witbridge/internal/service/wit"
)

// Sender delivers a text reply to an external user.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}

// ActionFunc mutates conversation state based on the entities Wit extracted.
type ActionFunc func(state session.Context, entities wit.Entities) (session.Context, error)

// Registry maps action names to handlers and implements wit.Actions.
type Registry struct {
	store   session.Store
	sender  Sender
	actions map[string]ActionFunc
}

// NewRegistry builds the registry with the built-in actions registered.
func NewRegistry(store session.Store, sender Sender) *Registry {
	r := &Registry{
		store:   store,
		sender:  sender,
		actions: make(map[string]ActionFunc),
	}
	r.Register("set-contact", SetContact)
	return r
}

// Register adds a named context action. Later registrations under the same
// name replace earlier ones.
func (r *Registry) Register(name string, fn ActionFunc) {
	r.actions[name] = fn
}

// Send resolves the session's external user and forwards the bot reply.
// Failures are logged and swallowed: the engine must get the turn back no
// matter what happened to delivery.
func (r *Registry) Send(ctx context.Context, sessionID, text string) error {
	sess, err := r.store.FindByID(ctx, sessionID)
	if err != nil {
		log.Printf("[bot] no active session %s for reply: %v", sessionID, err)
		return nil
	}

	if err := r.sender.Send(ctx, sess.ExternalUserID, text); err != nil {
		log.Printf("[bot] forwarding reply to %s failed: %v", sess.ExternalUserID, err)
	}
	return nil
}

// Run executes the named context action.
func (r *Registry) Run(_ context.Context, name string, state session.Context, entities wit.Entities) (session.Context, error) {
	fn, ok := r.actions[name]
	if !ok {
		return state, fmt.Errorf("bot: unknown action %q", name)
	}
	return fn(state, entities)
}

// SetContact records the contact entity on the context, or flags it missing
// and drops any stale value.
func SetContact(state session.Context, entities wit.Entities) (session.Context, error) {
	if contacts := entities["contact"]; len(contacts) > 0 {
		state["contact"] = contacts[0].Value
		state["missingContact"] = false
	} else {
		state["missingContact"] = true
		delete(state, "contact")
	}
	return state, nil
}
