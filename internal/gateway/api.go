// ABOUTME: Authenticated app endpoints: message sync, ping long-poll, client config and dev log
// ABOUTME: Decodes the loose app request bodies and shapes sync responses as JSON

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/onboarding"
	"github.com/2389/parley/internal/store"
)

// maxBodySize caps app and ingress request bodies.
const maxBodySize = 1 << 20

// logRoom receives client log lines posted to the dev log endpoint.
const logRoom = "log.log"

// reservedKeys are request fields that are never user settings.
var reservedKeys = map[string]bool{
	"text":           true,
	"from_timestamp": true,
	"fromstamp":      true,
	"institution":    true,
	"username":       true,
	"roomname":       true,
}

// appRequest is a decoded app request body. Every string or null field that
// is not reserved is carried along as a submitted setting.
type appRequest struct {
	Text          string
	FromTimestamp int64
	Institution   string
	Settings      store.Settings
}

// decodeAppRequest reads an app request body. An empty body is an empty request.
func decodeAppRequest(r *http.Request) (*appRequest, error) {
	raw := map[string]json.RawMessage{}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	req := &appRequest{Settings: store.Settings{}}
	if v, ok := raw["text"]; ok {
		if err := json.Unmarshal(v, &req.Text); err != nil {
			return nil, errors.New("text must be a string")
		}
	}
	// fromstamp is the name older clients send
	for _, key := range []string{"fromstamp", "from_timestamp"} {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, &req.FromTimestamp); err != nil {
				return nil, errors.New(key + " must be an integer")
			}
		}
	}
	if v, ok := raw["institution"]; ok {
		_ = json.Unmarshal(v, &req.Institution)
	}

	for key, v := range raw {
		if reservedKeys[key] {
			continue
		}
		var val *string
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		req.Settings[key] = val
	}
	return req, nil
}

// messageJSON is the wire form of a message
type messageJSON struct {
	Sender    string         `json:"sender"`
	Text      string         `json:"text"`
	Buttons   []store.Button `json:"buttons"`
	Timestamp int64          `json:"timestamp"`
}

type syncResponseJSON struct {
	Messages      []messageJSON       `json:"messages"`
	ConfigPrompts []onboarding.Prompt `json:"config_prompts"`
}

func toSyncJSON(resp *chat.SyncResponse) syncResponseJSON {
	out := syncResponseJSON{
		Messages:      make([]messageJSON, 0, len(resp.Messages)),
		ConfigPrompts: resp.Prompts,
	}
	if out.ConfigPrompts == nil {
		out.ConfigPrompts = []onboarding.Prompt{}
	}
	for _, m := range resp.Messages {
		buttons := m.Buttons
		if buttons == nil {
			buttons = []store.Button{}
		}
		out.Messages = append(out.Messages, messageJSON{
			Sender:    m.Sender,
			Text:      m.Text,
			Buttons:   buttons,
			Timestamp: m.Timestamp,
		})
	}
	return out
}

// handleSync ingests the user's text, if any, and returns messages newer than the watermark.
func (g *Gateway) handleSync(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	req, err := decodeAppRequest(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	g.sync(w, r, authCtx.Username, req)
}

func (g *Gateway) sync(w http.ResponseWriter, r *http.Request, username string, req *appRequest) {
	resp, err := g.svc.Chat.Sync(r.Context(), chat.SyncRequest{
		Username:      username,
		Text:          req.Text,
		FromTimestamp: req.FromTimestamp,
		Settings:      req.Settings,
	})
	if err != nil {
		g.logger.Error("sync failed", "username", username, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, toSyncJSON(resp))
}

// handlePing long-polls for a web ping marker.
func (g *Gateway) handlePing(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	g.ping(w, r, authCtx.Username)
}

func (g *Gateway) ping(w http.ResponseWriter, r *http.Request, username string) {
	hasNew, err := g.svc.Pings.Wait(r.Context(), username)
	if err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("ping wait failed", "username", username, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_new": hasNew})
}

// handleConfig returns outstanding onboarding prompts, or the engine's
// button texts once onboarding is complete.
func (g *Gateway) handleConfig(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	req, err := decodeAppRequest(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	g.clientConfig(w, r, authCtx.Username, req)
}

func (g *Gateway) clientConfig(w http.ResponseWriter, r *http.Request, username string, req *appRequest) {
	ctx := r.Context()

	prompts, err := g.svc.Negotiator.Outstanding(ctx, username, req.Settings)
	if err != nil {
		g.logger.Error("negotiating config failed", "username", username, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "config failed")
		return
	}
	if len(prompts) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{"config_prompts": prompts})
		return
	}

	language := g.svc.Bridge.Language(ctx, username, req.Settings.Get(onboarding.FieldLanguage))
	texts, err := g.svc.Buttons.ButtonTexts(ctx, language, username)
	if err != nil {
		g.logger.Warn("fetching button texts failed", "username", username, "language", language, "error", err)
	}
	if len(texts) == 0 {
		texts = json.RawMessage(`{}`)
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": texts})
}

// handleLog appends a client log line to the dev log audit file.
func (g *Gateway) handleLog(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	req, err := decodeAppRequest(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = "No message"
	}
	if g.svc.Audit != nil {
		g.svc.Audit.Append(logRoom, authCtx.Username, text, g.now())
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// writeJSON writes v as a JSON response with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
