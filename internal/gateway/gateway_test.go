// ABOUTME: Tests for the gateway HTTP surface using httptest and fake collaborators
// ABOUTME: Covers auth, sync shaping, config, ping, ingress secrets, names lookup and demo identities

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/onboarding"
	"github.com/2389/parley/internal/store"
)

const (
	testJWTSecret     = "0123456789abcdef0123456789abcdef"
	testBackendSecret = "s3cret"
)

type fakeSyncer struct {
	mu       sync.Mutex
	requests []chat.SyncRequest
	resp     *chat.SyncResponse
	err      error
}

func (f *fakeSyncer) Sync(ctx context.Context, req chat.SyncRequest) (*chat.SyncResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp == nil {
		return &chat.SyncResponse{}, nil
	}
	return f.resp, nil
}

type ingested struct {
	Room    string
	Text    string
	Buttons []store.Button
}

type fakeBridge struct {
	mu       sync.Mutex
	ingested []ingested
}

func (f *fakeBridge) Ingest(ctx context.Context, room, text string, buttons []store.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, ingested{Room: room, Text: text, Buttons: buttons})
	return nil
}

func (f *fakeBridge) Language(ctx context.Context, room, requested string) string {
	if requested != "" {
		return requested
	}
	return "EN"
}

type fakeNegotiator struct {
	prompts []onboarding.Prompt
}

func (f *fakeNegotiator) Outstanding(ctx context.Context, username string, submitted store.Settings) ([]onboarding.Prompt, error) {
	return f.prompts, nil
}

type fakeButtons struct {
	language string
	err      error
}

func (f *fakeButtons) ButtonTexts(ctx context.Context, language, username string) (json.RawMessage, error) {
	f.language = language
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"send":"Send"}`), nil
}

type fakePings struct {
	hasNew bool
	asked  []string
}

func (f *fakePings) Wait(ctx context.Context, username string) (bool, error) {
	f.asked = append(f.asked, username)
	return f.hasNew, nil
}

type scheduled struct {
	Conversation string
	Username     string
	RunAt        time.Time
}

type fakeScheduler struct {
	scheduled []scheduled
	cancelled []scheduled
}

func (f *fakeScheduler) Schedule(ctx context.Context, conversation, username string, runAt time.Time) (*store.ScheduledEvent, error) {
	f.scheduled = append(f.scheduled, scheduled{conversation, username, runAt})
	return &store.ScheduledEvent{Conversation: conversation, Username: username, RunAt: runAt}, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, conversation, username string) (int64, error) {
	f.cancelled = append(f.cancelled, scheduled{Conversation: conversation, Username: username})
	return 1, nil
}

type auditLine struct {
	Room, Sender, Text string
}

type recordingAudit struct {
	lines []auditLine
}

func (a *recordingAudit) Append(room, sender, text string, at time.Time) {
	a.lines = append(a.lines, auditLine{room, sender, text})
}

type harness struct {
	gw        *Gateway
	store     *store.MockStore
	chat      *fakeSyncer
	bridge    *fakeBridge
	negotiate *fakeNegotiator
	buttons   *fakeButtons
	pings     *fakePings
	scheduler *fakeScheduler
	audit     *recordingAudit
	verifier  *auth.JWTVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)

	h := &harness{
		store:     store.NewMockStore(),
		chat:      &fakeSyncer{},
		bridge:    &fakeBridge{},
		negotiate: &fakeNegotiator{},
		buttons:   &fakeButtons{},
		pings:     &fakePings{},
		scheduler: &fakeScheduler{},
		audit:     &recordingAudit{},
		verifier:  verifier,
	}

	cfg := &config.Config{
		Server:  config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Demo:    config.DemoConfig{Enabled: true, Institutions: config.DefaultInstitutions},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	gw, err := New(cfg, Services{
		Store:      h.store,
		Chat:       h.chat,
		Bridge:     h.bridge,
		Negotiator: h.negotiate,
		Buttons:    h.buttons,
		Pings:      h.pings,
		Scheduler:  h.scheduler,
		Resolver:   auth.NewResolver(h.store, nil),
		Verifier:   verifier,
		Secret:     auth.NewSecretChecker(testBackendSecret),
		Audit:      h.audit,
	}, nil)
	require.NoError(t, err)
	h.gw = gw
	return h
}

func (h *harness) token(t *testing.T) string {
	t.Helper()
	tok, err := h.verifier.Generate(auth.Claims{
		PreferredUsername: "Jane Doe",
		Email:             "jdoe@eur.nl",
		UIDs:              []string{"jdoe"},
		RegisteredClaims:  jwt.RegisteredClaims{Subject: "sub-1"},
	}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/health", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.gw.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReady_StoreDown(t *testing.T) {
	h := newHarness(t)
	h.store.SetPingErr(errors.New("disk gone"))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	h.gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parley_")
}

func TestSync_RequiresToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/messages/", `{}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, "/api/v1/messages/", `{}`, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.chat.requests)
}

func TestSync_ShapesResponse(t *testing.T) {
	h := newHarness(t)
	h.chat.resp = &chat.SyncResponse{
		Messages: []*store.Message{
			{Room: "jdoe@eur.nl", Sender: "jdoe@eur.nl", Text: "hi", Timestamp: 10},
			{Room: "jdoe@eur.nl", Sender: "bot", Text: "hello", Timestamp: 11,
				Buttons: []store.Button{{Title: "Yes", Payload: "/affirm"}}},
		},
	}

	rec := h.do(t, "/api/v1/messages/", `{"text":" hi ","from_timestamp":5,"language":"NL"}`, h.token(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.JSONEq(t, `{
		"messages": [
			{"sender":"jdoe@eur.nl","text":"hi","buttons":[],"timestamp":10},
			{"sender":"bot","text":"hello","buttons":[{"title":"Yes","payload":"/affirm"}],"timestamp":11}
		],
		"config_prompts": []
	}`, rec.Body.String())

	require.Len(t, h.chat.requests, 1)
	got := h.chat.requests[0]
	assert.Equal(t, "jdoe@eur.nl", got.Username)
	assert.Equal(t, " hi ", got.Text)
	assert.Equal(t, int64(5), got.FromTimestamp)
	assert.Equal(t, "NL", got.Settings.Get("language"))
	_, hasText := got.Settings["text"]
	assert.False(t, hasText, "reserved keys are not settings")
}

func TestSync_LegacyWatermarkAndNullSetting(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/messages/", `{"fromstamp":42,"language":null}`, h.token(t))
	require.Equal(t, http.StatusOK, rec.Code)

	got := h.chat.requests[0]
	assert.Equal(t, int64(42), got.FromTimestamp)
	v, ok := got.Settings["language"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestSync_BadBody(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/messages/", `{"from_timestamp":"soon"}`, h.token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestSync_ServiceError(t *testing.T) {
	h := newHarness(t)
	h.chat.err = errors.New("db down")

	rec := h.do(t, "/api/v1/messages/", `{}`, h.token(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	h.pings.hasNew = true

	rec := h.do(t, "/api/v1/ping/", ``, h.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"has_new":true}`, rec.Body.String())
	assert.Equal(t, []string{"jdoe@eur.nl"}, h.pings.asked)
}

func TestConfig_PromptsWhileIncomplete(t *testing.T) {
	h := newHarness(t)
	h.negotiate.prompts = []onboarding.Prompt{{Name: "language", Title: "Language"}}

	rec := h.do(t, "/api/v1/config/", `{}`, h.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"config_prompts":[{"name":"language","title":"Language","choices":null}]}`, rec.Body.String())
}

func TestConfig_ButtonTextsWhenComplete(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/config/", `{"language":"NL"}`, h.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"config":{"send":"Send"}}`, rec.Body.String())
	assert.Equal(t, "NL", h.buttons.language)
}

func TestConfig_EngineFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.buttons.err = errors.New("engine down")

	rec := h.do(t, "/api/v1/config/", `{}`, h.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"config":{}}`, rec.Body.String())
}

func TestLog(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/log/", `{"text":"button clicked"}`, h.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = h.do(t, "/api/v1/log/", `{}`, h.token(t))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []auditLine{
		{"log.log", "jdoe@eur.nl", "button clicked"},
		{"log.log", "jdoe@eur.nl", "No message"},
	}, h.audit.lines)
}

func TestIngress(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/ingress/",
		`{"backend_secret":"s3cret","roomname":"jdoe@eur.nl","text":"Reminder","buttons":[{"title":"Ok","payload":"/ok"}]}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	require.Len(t, h.bridge.ingested, 1)
	assert.Equal(t, ingested{
		Room:    "jdoe@eur.nl",
		Text:    "Reminder",
		Buttons: []store.Button{{Title: "Ok", Payload: "/ok"}},
	}, h.bridge.ingested[0])
}

func TestIngress_DeniesBadSecret(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{
		`{"backend_secret":"wrong","roomname":"jdoe@eur.nl","text":"x"}`,
		`{"roomname":"jdoe@eur.nl","text":"x"}`,
	} {
		rec := h.do(t, "/api/v1/ingress/", body, "")
		assert.Equal(t, http.StatusOK, rec.Code, "denials keep a 200 status")
		assert.Equal(t, "Nope", rec.Body.String())
	}
	assert.Empty(t, h.bridge.ingested)
}

func TestIngressTask_Schedule(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/ingress_task/",
		`{"backend_secret":"s3cret","task":"/survey","username":"jdoe@eur.nl","timestamp":1790000000}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, h.scheduler.scheduled, 1)
	assert.Equal(t, scheduled{"/survey", "jdoe@eur.nl", time.Unix(1790000000, 0).UTC()}, h.scheduler.scheduled[0])
}

func TestIngressTask_CancelViaLegacyRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/add_task/",
		`{"backend_secret":"s3cret","task":"/survey","username":"jdoe@eur.nl","cancel":true}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, h.scheduler.scheduled)
	assert.Equal(t, []scheduled{{Conversation: "/survey", Username: "jdoe@eur.nl"}}, h.scheduler.cancelled)
}

func TestIngressTask_DeniesBadSecret(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "/api/v1/ingress_task/", `{"backend_secret":"nope","task":"/x","username":"a"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Nope", rec.Body.String())
	assert.Empty(t, h.scheduler.scheduled)
}

func TestGetNames(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.CreateUserWithProfile(context.Background(), &store.User{
		Username: "jdoe@eur.nl", FirstName: "Jane", LastName: "Doe",
	}))

	rec := h.do(t, "/api/v1/get_names/", `{"backend_secret":"s3cret","username":"jdoe@eur.nl"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"first_name":"Jane","last_name":"Doe","full_name":"Jane Doe"}`, rec.Body.String())
}

func TestGetNames_Failures(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad secret", `{"backend_secret":"x","username":"jdoe@eur.nl"}`, http.StatusUnauthorized},
		{"unknown user", `{"backend_secret":"s3cret","username":"ghost@eur.nl"}`, http.StatusNotFound},
		{"unknown demo identity", `{"backend_secret":"s3cret","username":"10.0.0.1@eur.nl"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, "/api/v1/get_names/", tt.body, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, `{}`, rec.Body.String())
		})
	}
}

func TestDemoSync_CreatesAddressIdentity(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/messages/", strings.NewReader(`{"institution":"hr","text":"hi"}`))
	req.Header.Set("X-Forwarded-For", "10.1.2.3, 172.16.0.1")
	rec := httptest.NewRecorder()
	h.gw.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, h.chat.requests, 1)
	assert.Equal(t, "10.1.2.3@hr.nl", h.chat.requests[0].Username)
	_, hasInstitution := h.chat.requests[0].Settings["institution"]
	assert.False(t, hasInstitution)

	user, err := h.store.GetUser(context.Background(), "10.1.2.3@hr.nl")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", user.FirstName)
	assert.Equal(t, "@hr.nl", user.LastName)
}

func TestDemo_DefaultAndUnknownInstitution(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/ping/", strings.NewReader(`{}`))
	req.RemoteAddr = "192.0.2.7:5555"
	rec := httptest.NewRecorder()
	h.gw.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"192.0.2.7@eur.nl"}, h.pings.asked)

	req = httptest.NewRequest(http.MethodPost, "/api/chat/config/", strings.NewReader(`{"institution":"mit"}`))
	rec = httptest.NewRecorder()
	h.gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDemoRoutesDisabled(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	st := store.NewMockStore()

	gw, err := New(&config.Config{}, Services{
		Store:    st,
		Chat:     &fakeSyncer{},
		Bridge:   &fakeBridge{},
		Resolver: auth.NewResolver(st, nil),
		Verifier: verifier,
	}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/messages/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(&config.Config{}, Services{}, nil)
	assert.Error(t, err)
}
