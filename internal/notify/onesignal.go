// ABOUTME: OneSignal REST client: push delivery and the paged device directory
// ABOUTME: Devices are fetched 300 per page with a pause between pages

package notify

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

	"github.com/2389/parley/internal/config"
)

const (
	onesignalPageSize  = 300
	onesignalPagePause = time.Second
)

// Device is one OneSignal player
type Device struct {
	ID             string `json:"id"`
	ExternalUserID string `json:"external_user_id"`
	LastActive     int64  `json:"last_active"`
}

// OneSignal talks to the OneSignal REST API
type OneSignal struct {
	appID     string
	apiKey    string
	baseURL   string
	heading   string
	client    *http.Client
	pagePause time.Duration
}

// NewOneSignal creates a client from configuration
func NewOneSignal(cfg config.OneSignalConfig, timeout time.Duration) *OneSignal {
	return &OneSignal{
		appID:     cfg.AppID,
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		heading:   cfg.Heading,
		client:    &http.Client{Timeout: timeout},
		pagePause: onesignalPagePause,
	}
}

type onesignalNotification struct {
	AppID            string            `json:"app_id"`
	Headings         map[string]string `json:"headings,omitempty"`
	Contents         map[string]string `json:"contents"`
	IncludePlayerIDs []string          `json:"include_player_ids"`
}

// Send pushes message to one player
func (o *OneSignal) Send(ctx context.Context, pushID, message string) error {
	body := onesignalNotification{
		AppID:            o.appID,
		Contents:         map[string]string{"en": message},
		IncludePlayerIDs: []string{pushID},
	}
	if o.heading != "" {
		body.Headings = map[string]string{"en": o.heading}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/notifications", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	return o.do(req, nil)
}

type playersPage struct {
	TotalCount int      `json:"total_count"`
	Players    []Device `json:"players"`
}

// Devices lists every player registered for the app
func (o *OneSignal) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	offset := 0
	for {
		q := url.Values{}
		q.Set("app_id", o.appID)
		q.Set("limit", strconv.Itoa(onesignalPageSize))
		q.Set("offset", strconv.Itoa(offset))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/players?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		var page playersPage
		if err := o.do(req, &page); err != nil {
			return nil, fmt.Errorf("listing players at offset %d: %w", offset, err)
		}
		devices = append(devices, page.Players...)

		offset += onesignalPageSize
		if offset > page.TotalCount {
			return devices, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.pagePause):
		}
	}
}

func (o *OneSignal) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Basic "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("onesignal returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
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
