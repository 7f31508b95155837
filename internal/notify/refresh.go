// ABOUTME: Periodic push-id refresh from the push provider's device directory
// ABOUTME: The most recently active device wins when a user has several

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/2389/parley/internal/store"
)

// DeviceLister lists the provider's registered devices
type DeviceLister interface {
	Devices(ctx context.Context) ([]Device, error)
}

// ProfileStore is the subset of store.Store the refresher needs
type ProfileStore interface {
	ListUsers(ctx context.Context) ([]*store.User, error)
	SetPushID(ctx context.Context, username, pushID string) error
}

// Refresher copies device ids onto profiles by matching the device's
// external user id against the profile's sub id.
type Refresher struct {
	devices DeviceLister
	users   ProfileStore
	logger  *slog.Logger
}

// NewRefresher creates a Refresher
func NewRefresher(devices DeviceLister, users ProfileStore, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{devices: devices, users: users, logger: logger.With("component", "push_refresh")}
}

// Refresh updates push ids and returns how many profiles changed.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	devices, err := r.devices.Devices(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing devices: %w", err)
	}

	// Later activity overwrites earlier devices of the same user
	sorted := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.ExternalUserID != "" {
			sorted = append(sorted, d)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LastActive < sorted[j].LastActive })

	latest := make(map[string]Device, len(sorted))
	var subs []string
	for _, d := range sorted {
		if _, seen := latest[d.ExternalUserID]; !seen {
			subs = append(subs, d.ExternalUserID)
		}
		latest[d.ExternalUserID] = d
	}

	users, err := r.users.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}
	bySub := make(map[string]*store.User, len(users))
	for _, u := range users {
		if u.SubID != "" {
			bySub[u.SubID] = u
		}
	}

	updated := 0
	for _, sub := range subs {
		d := latest[sub]
		user, ok := bySub[sub]
		if !ok {
			r.logger.Warn("device has no profile yet", "sub_id", sub)
			continue
		}
		if user.PushID == d.ID {
			continue
		}
		if err := r.users.SetPushID(ctx, user.Username, d.ID); err != nil {
			return updated, fmt.Errorf("saving push id for %s: %w", user.Username, err)
		}
		updated++
	}

	r.logger.Info("push ids refreshed", "devices", len(sorted), "updated", updated)
	return updated, nil
}
