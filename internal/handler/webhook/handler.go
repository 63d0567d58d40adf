// Package webhook receives Messenger platform events and drives them through
// the session store and the bot engine.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tobrady/witbridge/internal/model/session"
	"github.com/tobrady/witbridge/pkg/utils"
)

const (
	maxBodyBytes     = 1 << 20
	attachmentNotice = "Sorry I can only process text messages for now."
)

// Engine runs the bot's action graph for one user message and returns the
// next conversation context.
type Engine interface {
	RunActions(ctx context.Context, sessionID, message string, state session.Context) (session.Context, error)
}

// Sender delivers a text reply to an external user.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}

// Handler serves the Messenger webhook endpoints.
type Handler struct {
	store       session.Store
	engine      Engine
	sender      Sender
	appSecret   string
	verifyToken string
}

// New wires the webhook handler to its collaborators.
func New(store session.Store, engine Engine, sender Sender, appSecret, verifyToken string) *Handler {
	return &Handler{
		store:       store,
		engine:      engine,
		sender:      sender,
		appSecret:   appSecret,
		verifyToken: verifyToken,
	}
}

// RegisterRoutes registers the webhook endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.handleVerify)
	r.Post("/webhook", h.handleEvents)
}

// handleVerify answers the platform's subscription handshake.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") == "subscribe" && query.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(query.Get("hub.challenge")))
		return
	}

	log.Printf("[webhook] invalid verify token %q", query.Get("hub.verify_token"))
	utils.RespondError(w, http.StatusBadRequest, "invalid verify token")
}

type payload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	Messaging []messagingEvent `json:"messaging"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *eventMessage `json:"message"`
}

type eventMessage struct {
	Text        string            `json:"text"`
	Attachments []json.RawMessage `json:"attachments"`
}

// handleEvents verifies and dispatches one webhook delivery. The platform
// retries anything that is not a 200, so per-event failures are logged and
// the batch is always acknowledged once dispatched.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if err := VerifySignature(body, r.Header.Get("X-Hub-Signature"), h.appSecret); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrSignatureMissing) {
			status = http.StatusBadRequest
		}
		log.Printf("[webhook] rejecting delivery: %v", err)
		utils.RespondError(w, status, err.Error())
		return
	}

	var data payload
	if err := json.Unmarshal(body, &data); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if data.Object == "page" {
		for _, ent := range data.Entry {
			for _, ev := range ent.Messaging {
				h.dispatch(r.Context(), ev)
			}
		}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// dispatch handles a single messaging event. Every failure path logs and
// abandons just this event.
func (h *Handler) dispatch(ctx context.Context, ev messagingEvent) {
	if ev.Message == nil {
		raw, _ := json.Marshal(ev)
		log.Printf("[webhook] received non-message event: %s", raw)
		return
	}

	senderID := ev.Sender.ID

	if len(ev.Message.Attachments) > 0 {
		if err := h.sender.Send(ctx, senderID, attachmentNotice); err != nil {
			log.Printf("[webhook] attachment notice to %s failed: %v", senderID, err)
		}
		return
	}

	text := ev.Message.Text
	if text == "" {
		log.Printf("[webhook] message from %s carried neither text nor attachments", senderID)
		return
	}

	sess, err := h.store.FindOrCreate(ctx, senderID)
	if err != nil {
		log.Printf("[webhook] resolving session for %s failed: %v", senderID, err)
		return
	}

	next, err := h.engine.RunActions(ctx, sess.ID, text, sess.Context)
	if err != nil {
		// Context stays at its last persisted state so the next message
		// retries from there.
		log.Printf("[webhook] bot engine error for session %s: %v", sess.ID, err)
		return
	}

	if err := h.store.SaveContext(ctx, sess.ID, next); err != nil {
		log.Printf("[webhook] persisting context for session %s failed: %v", sess.ID, err)
	}
}
