// ABOUTME: Bot-to-backend endpoints authenticated with the shared backend secret
// ABOUTME: Message ingress, task scheduling/cancelling and name lookups for the dialogue engine

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/store"
)

// Ingress acknowledgements. A bad secret is answered 200 with the denial
// body; bots check the body, not the status.
const (
	ingressOK     = "OK"
	ingressDenied = "Nope"
)

type ingressRequest struct {
	BackendSecret string         `json:"backend_secret"`
	Room          string         `json:"roomname"`
	Text          string         `json:"text"`
	Buttons       []store.Button `json:"buttons"`
}

type ingressTaskRequest struct {
	BackendSecret string `json:"backend_secret"`
	Task          string `json:"task"`
	Username      string `json:"username"`
	Timestamp     int64  `json:"timestamp"` // unix seconds
	Cancel        bool   `json:"cancel"`
}

type namesRequest struct {
	BackendSecret string `json:"backend_secret"`
	Username      string `json:"username"`
}

type namesResponse struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
}

func decodeIngress(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
}

func (g *Gateway) secretOK(candidate string) bool {
	return g.svc.Secret != nil && g.svc.Secret.Check(candidate)
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// handleIngress stores a bot-authored message in a room and notifies its owner.
func (g *Gateway) handleIngress(w http.ResponseWriter, r *http.Request) {
	var req ingressRequest
	if err := decodeIngress(r, &req); err != nil {
		writePlain(w, http.StatusBadRequest, ingressDenied)
		return
	}
	if !g.secretOK(req.BackendSecret) {
		g.logger.Warn("ingress denied", "room", req.Room, "remote", auth.ClientIP(r))
		writePlain(w, http.StatusOK, ingressDenied)
		return
	}
	if req.Room == "" {
		writePlain(w, http.StatusBadRequest, ingressDenied)
		return
	}

	if err := g.svc.Bridge.Ingest(r.Context(), req.Room, req.Text, req.Buttons); err != nil {
		g.logger.Error("ingress failed", "room", req.Room, "error", err)
		writePlain(w, http.StatusInternalServerError, "storing message failed")
		return
	}
	writePlain(w, http.StatusOK, ingressOK)
}

// handleIngressTask schedules a conversation for a user, or cancels the
// pending ones when cancel is set.
func (g *Gateway) handleIngressTask(w http.ResponseWriter, r *http.Request) {
	var req ingressTaskRequest
	if err := decodeIngress(r, &req); err != nil {
		writePlain(w, http.StatusBadRequest, ingressDenied)
		return
	}
	if !g.secretOK(req.BackendSecret) {
		g.logger.Warn("task ingress denied", "username", req.Username, "remote", auth.ClientIP(r))
		writePlain(w, http.StatusOK, ingressDenied)
		return
	}
	if req.Task == "" || req.Username == "" {
		writePlain(w, http.StatusBadRequest, ingressDenied)
		return
	}

	ctx := r.Context()
	if req.Cancel {
		if _, err := g.svc.Scheduler.Cancel(ctx, req.Task, req.Username); err != nil {
			g.logger.Error("cancelling task failed", "conversation", req.Task, "username", req.Username, "error", err)
			writePlain(w, http.StatusInternalServerError, "cancelling task failed")
			return
		}
		writePlain(w, http.StatusOK, ingressOK)
		return
	}

	runAt := time.Unix(req.Timestamp, 0).UTC()
	if _, err := g.svc.Scheduler.Schedule(ctx, req.Task, req.Username, runAt); err != nil {
		g.logger.Error("scheduling task failed", "conversation", req.Task, "username", req.Username, "error", err)
		writePlain(w, http.StatusInternalServerError, "scheduling task failed")
		return
	}
	writePlain(w, http.StatusOK, ingressOK)
}

// handleGetNames returns a user's name parts for the engine's name slots.
// Unknown demo identities answer an empty object without an error status.
func (g *Gateway) handleGetNames(w http.ResponseWriter, r *http.Request) {
	var req namesRequest
	if err := decodeIngress(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, struct{}{})
		return
	}
	if !g.secretOK(req.BackendSecret) {
		writeJSON(w, http.StatusUnauthorized, struct{}{})
		return
	}

	user, err := g.svc.Store.GetUser(r.Context(), req.Username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if auth.IsAnonymousIdentity(req.Username) {
			writeJSON(w, http.StatusOK, struct{}{})
			return
		}
		g.logger.Warn("names requested for unknown user", "username", req.Username)
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	case err != nil:
		g.logger.Error("looking up user failed", "username", req.Username, "error", err)
		writeJSON(w, http.StatusInternalServerError, struct{}{})
		return
	}

	writeJSON(w, http.StatusOK, namesResponse{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		FullName:  user.FullName(),
	})
}
