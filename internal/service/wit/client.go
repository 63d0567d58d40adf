// Package wit drives the Wit.ai converse loop: it forwards the user's
// message, then keeps stepping the engine and invoking the actions it asks
// for until the engine yields the turn.
package wit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tobrady/witbridge/internal/model/session"
)

const (
	defaultBaseURL  = "https://api.wit.ai"
	apiVersion      = "20160516"
	defaultMaxSteps = 5
)

// Entity is a single value Wit extracted from the user's message.
type Entity struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Entities maps entity names to the candidate values Wit extracted.
type Entities map[string][]Entity

// Actions supplies the callbacks the converse loop invokes. The bot registry
// implements it.
type Actions interface {
	// Send forwards a bot reply for the given session. It must not fail the
	// conversation on delivery problems.
	Send(ctx context.Context, sessionID, text string) error
	// Run executes the named context action and returns the next context.
	Run(ctx context.Context, name string, state session.Context, entities Entities) (session.Context, error)
}

// Client talks to the Wit.ai converse endpoint.
type Client struct {
	baseURL    string
	token      string
	actions    Actions
	maxSteps   int
	httpClient *http.Client
}

// NewClient builds a Wit client bound to an action set. An empty baseURL
// selects the production API; tests point it at a local server.
func NewClient(baseURL, token string, actions Actions) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		actions:    actions,
		maxSteps:   defaultMaxSteps,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type converseResponse struct {
	Type       string   `json:"type"`
	Msg        string   `json:"msg"`
	Action     string   `json:"action"`
	Entities   Entities `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// RunActions runs the converse loop for one user message and returns the
// context the engine left behind. The loop is bounded so a misbehaving action
// graph cannot spin forever.
func (c *Client) RunActions(ctx context.Context, sessionID, message string, state session.Context) (session.Context, error) {
	current := state.Clone()
	query := message

	for step := 0; step < c.maxSteps; step++ {
		resp, err := c.converse(ctx, sessionID, query, current)
		if err != nil {
			return current, err
		}
		// Only the first step carries the user's message.
		query = ""

		switch resp.Type {
		case "stop":
			return current, nil
		case "msg":
			if err := c.actions.Send(ctx, sessionID, resp.Msg); err != nil {
				return current, fmt.Errorf("wit: send action: %w", err)
			}
		case "action":
			next, err := c.actions.Run(ctx, resp.Action, current, resp.Entities)
			if err != nil {
				return current, fmt.Errorf("wit: action %q: %w", resp.Action, err)
			}
			if next != nil {
				current = next
			}
		case "error":
			return current, fmt.Errorf("wit: converse returned an error step for session %s", sessionID)
		default:
			return current, fmt.Errorf("wit: unknown step type %q", resp.Type)
		}
	}

	return current, fmt.Errorf("wit: max steps (%d) reached for session %s", c.maxSteps, sessionID)
}

func (c *Client) converse(ctx context.Context, sessionID, query string, state session.Context) (*converseResponse, error) {
	params := url.Values{}
	params.Set("v", apiVersion)
	params.Set("session_id", sessionID)
	if query != "" {
		params.Set("q", query)
	}

	body, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("wit: encode context: %w", err)
	}

	endpoint := c.baseURL + "/converse?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("wit: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wit: converse request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wit: converse returned status %d", resp.StatusCode)
	}

	var decoded converseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("wit: decode converse response: %w", err)
	}
	return &decoded, nil
}
