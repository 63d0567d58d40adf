package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tobrady/witbridge/internal/model/session"
)

type stubEngine struct {
	gotSessionID string
	gotMessage   string
	gotContext   session.Context
	calls        int
	next         session.Context
	err          error
}

func (e *stubEngine) RunActions(_ context.Context, sessionID, message string, state session.Context) (session.Context, error) {
	e.calls++
	e.gotSessionID = sessionID
	e.gotMessage = message
	e.gotContext = state.Clone()
	if e.err != nil {
		return state, e.err
	}
	return e.next, nil
}

type stubSender struct {
	recipients []string
	texts      []string
	err        error
}

func (s *stubSender) Send(_ context.Context, recipientID, text string) error {
	s.recipients = append(s.recipients, recipientID)
	s.texts = append(s.texts, text)
	return s.err
}

const (
	testSecret      = "app-secret"
	testVerifyToken = "verify-token"
)

func setup(engine *stubEngine, sender *stubSender) (*chi.Mux, *session.MemoryStore) {
	store := session.NewMemoryStore()
	h := New(store, engine, sender, testSecret, testVerifyToken)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, store
}

func textEventPayload(senderID, text string) []byte {
	return []byte(fmt.Sprintf(
		`{"object":"page","entry":[{"messaging":[{"sender":{"id":%q},"message":{"text":%q}}]}]}`,
		senderID, text,
	))
}

func signedRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature", signBody(body, testSecret))
	return req
}

func TestChallengeEcho(t *testing.T) {
	r, _ := setup(&stubEngine{}, &stubSender{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=42", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != "42" {
		t.Fatalf("expected challenge echo, got %q", resp.Body.String())
	}
}

func TestChallengeWrongToken(t *testing.T) {
	r, _ := setup(&stubEngine{}, &stubSender{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestEventsMissingSignature(t *testing.T) {
	engine := &stubEngine{}
	r, _ := setup(engine, &stubSender{})

	body := textEventPayload("fb-123", "hello")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if engine.calls != 0 {
		t.Fatal("engine must not run for unsigned requests")
	}
}

func TestEventsBadSignature(t *testing.T) {
	engine := &stubEngine{}
	r, store := setup(engine, &stubSender{})

	body := textEventPayload("fb-123", "hello")
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature", signBody(body, "other-secret"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if engine.calls != 0 {
		t.Fatal("engine must not run for tampered requests")
	}
	if _, err := store.FindByID(context.Background(), "anything"); err == nil {
		t.Fatal("no session should exist")
	}
}

func TestTextMessagePersistsEngineContext(t *testing.T) {
	engine := &stubEngine{next: session.Context{"contact": "Alice"}}
	r, store := setup(engine, &stubSender{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, signedRequest(textEventPayload("fb-123", "hello")))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if engine.gotMessage != "hello" {
		t.Fatalf("unexpected message forwarded to engine: %q", engine.gotMessage)
	}
	if len(engine.gotContext) != 0 {
		t.Fatalf("first turn must start from an empty context, got %v", engine.gotContext)
	}

	sess, err := store.FindOrCreate(context.Background(), "fb-123")
	if err != nil {
		t.Fatalf("FindOrCreate err: %v", err)
	}
	if sess.ID != engine.gotSessionID {
		t.Fatalf("engine ran against session %s, store has %s", engine.gotSessionID, sess.ID)
	}
	if contact, _ := sess.Context.String("contact"); contact != "Alice" {
		t.Fatalf("engine context was not persisted: %v", sess.Context)
	}
}

func TestEngineErrorStillAcks(t *testing.T) {
	engine := &stubEngine{err: errors.New("engine down")}
	r, store := setup(engine, &stubSender{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, signedRequest(textEventPayload("fb-123", "hello")))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 despite engine failure, got %d", resp.Code)
	}

	// Context stays at its last persisted state (empty for a first turn).
	sess, err := store.FindOrCreate(context.Background(), "fb-123")
	if err != nil {
		t.Fatalf("FindOrCreate err: %v", err)
	}
	if len(sess.Context) != 0 {
		t.Fatalf("context must not be persisted on engine failure: %v", sess.Context)
	}
}

func TestAttachmentSendsNotice(t *testing.T) {
	engine := &stubEngine{}
	sender := &stubSender{}
	r, _ := setup(engine, sender)

	body := []byte(`{"object":"page","entry":[{"messaging":[{"sender":{"id":"fb-123"},"message":{"attachments":[{"type":"image"}]}}]}]}`)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, signedRequest(body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if engine.calls != 0 {
		t.Fatal("engine must not run for attachment events")
	}
	if len(sender.texts) != 1 || sender.texts[0] != attachmentNotice {
		t.Fatalf("expected attachment notice, got %v", sender.texts)
	}
	if sender.recipients[0] != "fb-123" {
		t.Fatalf("notice sent to wrong recipient: %s", sender.recipients[0])
	}
}

func TestSendFailureStillAcks(t *testing.T) {
	sender := &stubSender{err: errors.New("remote send failed")}
	r, _ := setup(&stubEngine{}, sender)

	body := []byte(`{"object":"page","entry":[{"messaging":[{"sender":{"id":"fb-123"},"message":{"attachments":[{"type":"image"}]}}]}]}`)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, signedRequest(body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 despite send failure, got %d", resp.Code)
	}
}

func TestNonMessageEventsIgnored(t *testing.T) {
	engine := &stubEngine{}
	sender := &stubSender{}
	r, _ := setup(engine, sender)

	body := []byte(`{"object":"page","entry":[{"messaging":[{"sender":{"id":"fb-123"}}]}]}`)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, signedRequest(body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if engine.calls != 0 || len(sender.texts) != 0 {
		t.Fatal("non-message events must not reach the engine or the sender")
	}
}

func TestNonPageObjectIgnored(t *testing.T) {
	engine := &stubEngine{}
	r, _ := setup(engine, &stubSender{})

	body := []byte(`{"object":"user","entry":[{"messaging":[{"sender":{"id":"fb-123"},"message":{"text":"hi"}}]}]}`)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, signedRequest(body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if engine.calls != 0 {
		t.Fatal("non-page deliveries must be ignored")
	}
}

func TestBatchIsolatesEventFailures(t *testing.T) {
	engine := &stubEngine{next: session.Context{"ok": true}}
	sender := &stubSender{err: errors.New("remote send failed")}
	r, store := setup(engine, sender)

	// One attachment event whose notice fails, then a text event.
	body := []byte(`{"object":"page","entry":[{"messaging":[` +
		`{"sender":{"id":"fb-a"},"message":{"attachments":[{"type":"image"}]}},` +
		`{"sender":{"id":"fb-b"},"message":{"text":"hello"}}]}]}`)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, signedRequest(body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if engine.calls != 1 {
		t.Fatalf("text event should still reach the engine, calls=%d", engine.calls)
	}

	sess, err := store.FindOrCreate(context.Background(), "fb-b")
	if err != nil {
		t.Fatalf("FindOrCreate err: %v", err)
	}
	if ok, _ := sess.Context.Bool("ok"); !ok {
		t.Fatalf("second event's context was not persisted: %v", sess.Context)
	}
}
