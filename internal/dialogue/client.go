// ABOUTME: HTTP client for the external dialogue engine (REST webhook, tracker, action server)
// ABOUTME: Endpoint ports are chosen per language from the language table

package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/parley/internal/store"
)

// Utterance is one reply from the engine
type Utterance struct {
	Text    string         `json:"text"`
	Buttons []store.Button `json:"buttons,omitempty"`
}

// Names are the slots pushed to the engine so replies can address the user
type Names struct {
	FirstName string
	LastName  string
	FullName  string
}

// NamesOf extracts the name slots of a user
func NamesOf(u *store.User) Names {
	return Names{FirstName: u.FirstName, LastName: u.LastName, FullName: u.FullName()}
}

// Options configures a Client
type Options struct {
	EngineURL  string // may contain {port}
	TrackerURL string // may contain {port} and {sender}
	ActionURL  string // may contain {port}, filled with the action port
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the dialogue engine
type Client struct {
	opts      Options
	languages *Languages
	client    *http.Client
}

// NewClient creates a Client. A nil HTTPClient gets one with opts.Timeout.
func NewClient(opts Options, languages *Languages) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, languages: languages, client: client}
}

// Languages returns the client's language table
func (c *Client) Languages() *Languages {
	return c.languages
}

type converseRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Converse sends one user turn and returns the engine's utterances in order.
func (c *Client) Converse(ctx context.Context, language, sender, text string) ([]Utterance, error) {
	lang := c.languages.Lookup(language)
	endpoint := fillTemplate(c.opts.EngineURL, lang.Port, sender)

	var utterances []Utterance
	if err := c.postJSON(ctx, endpoint, converseRequest{Sender: sender, Message: text}, &utterances); err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}
	return utterances, nil
}

type slotEvent struct {
	Event string `json:"event"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SetNameSlots stores the user's names in the engine's tracker for sender.
func (c *Client) SetNameSlots(ctx context.Context, language, sender string, names Names) error {
	lang := c.languages.Lookup(language)
	endpoint := fillTemplate(c.opts.TrackerURL, lang.Port, sender)

	events := []slotEvent{
		{Event: "slot", Name: "first_name", Value: names.FirstName},
		{Event: "slot", Name: "last_name", Value: names.LastName},
		{Event: "slot", Name: "full_name", Value: names.FullName},
	}
	if err := c.postJSON(ctx, endpoint, events, nil); err != nil {
		return fmt.Errorf("setting name slots: %w", err)
	}
	return nil
}

type actionRequest struct {
	NextAction string            `json:"next_action"`
	Tracker    map[string]any    `json:"tracker"`
	Domain     map[string]string `json:"domain"`
}

type actionResponse struct {
	Responses []struct {
		Custom json.RawMessage `json:"custom"`
	} `json:"responses"`
}

// ButtonTexts asks the action server for the institution's client button
// configuration and returns it verbatim.
func (c *Client) ButtonTexts(ctx context.Context, language, username string) (json.RawMessage, error) {
	lang := c.languages.Lookup(language)
	endpoint := fillTemplate(c.opts.ActionURL, lang.ActionPort, username)

	req := actionRequest{
		NextAction: "action_buttons",
		Tracker:    map[string]any{},
		Domain:     map[string]string{"institution": Institution(username)},
	}

	var resp actionResponse
	if err := c.postJSON(ctx, endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("fetching button texts: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("fetching button texts: empty responses")
	}
	return resp.Responses[0].Custom, nil
}

// Institution returns the first label of the username's domain, lower-cased:
// "jd@eur.nl" -> "eur".
func Institution(username string) string {
	domain := username
	if at := strings.LastIndex(username, "@"); at >= 0 {
		domain = username[at+1:]
	}
	label, _, _ := strings.Cut(domain, ".")
	return strings.ToLower(label)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func fillTemplate(tmpl string, port int, sender string) string {
	return strings.NewReplacer(
		"{port}", strconv.Itoa(port),
		"{sender}", url.PathEscape(sender),
	).Replace(tmpl)
}
