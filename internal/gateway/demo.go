// ABOUTME: Unauthenticated demo endpoints keyed by client address and institution
// ABOUTME: Auto-creates the address-derived user and reuses the app sync, ping and config handlers

package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/store"
)

// defaultInstitution is assumed when a demo request names none.
const defaultInstitution = "EUR"

func (g *Gateway) institution(name string) (config.InstitutionConfig, bool) {
	if name = strings.TrimSpace(name); name == "" {
		name = defaultInstitution
	}
	for _, inst := range g.config.Demo.Institutions {
		if strings.EqualFold(inst.Name, name) {
			return inst, true
		}
	}
	return config.InstitutionConfig{}, false
}

// demoIdentity decodes the body and derives the caller's address identity,
// creating the user on first sight. It writes an error response and returns
// ok false when the request cannot be served.
func (g *Gateway) demoIdentity(w http.ResponseWriter, r *http.Request) (string, *appRequest, bool) {
	req, err := decodeAppRequest(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", nil, false
	}

	inst, ok := g.institution(req.Institution)
	if !ok {
		sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown institution %q", req.Institution))
		return "", nil, false
	}

	username := auth.DemoUsername(r, inst.Postfix)
	if _, err := g.svc.Store.EnsureUser(r.Context(), &store.User{
		Username:  username,
		FirstName: auth.ClientIP(r),
		LastName:  inst.Postfix,
	}); err != nil {
		g.logger.Error("creating demo user failed", "username", username, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "creating demo user failed")
		return "", nil, false
	}
	return username, req, true
}

func (g *Gateway) handleDemoSync(w http.ResponseWriter, r *http.Request) {
	username, req, ok := g.demoIdentity(w, r)
	if !ok {
		return
	}
	g.sync(w, r, username, req)
}

func (g *Gateway) handleDemoPing(w http.ResponseWriter, r *http.Request) {
	username, _, ok := g.demoIdentity(w, r)
	if !ok {
		return
	}
	g.ping(w, r, username)
}

func (g *Gateway) handleDemoConfig(w http.ResponseWriter, r *http.Request) {
	username, req, ok := g.demoIdentity(w, r)
	if !ok {
		return
	}
	g.clientConfig(w, r, username, req)
}
