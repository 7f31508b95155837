// ABOUTME: Onboarding config negotiation: which setup questions are still unanswered
// ABOUTME: Complete submissions are persisted once and then served from the completion cache

package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/parley/internal/dialogue"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
)

// FieldLanguage is the settings key of the study language
const FieldLanguage = "language"

// Choice is one allowed answer
type Choice struct {
	Value string `json:"value"`
	Title string `json:"title"`
}

// Field is one setup question. Fields are asked in order.
type Field struct {
	Name    string
	Title   string
	Choices []Choice // empty means any non-empty value
}

// Prompt asks the client to answer a field
type Prompt struct {
	Name    string   `json:"name"`
	Title   string   `json:"title"`
	Choices []Choice `json:"choices"`
}

// LanguageField is the study language question, offering every configured language.
func LanguageField(langs *dialogue.Languages) Field {
	f := Field{Name: FieldLanguage, Title: "Choose the language of your study"}
	for _, l := range langs.All() {
		f.Choices = append(f.Choices, Choice{Value: l.Code, Title: l.Title})
	}
	return f
}

// Store is the subset of store.Store negotiation needs
type Store interface {
	ListUsers(ctx context.Context) ([]*store.User, error)
	GetUser(ctx context.Context, username string) (*store.User, error)
	SaveProfileConfig(ctx context.Context, username string, cfg store.Settings, completedAt time.Time) error
}

// Negotiator decides which onboarding prompts a user still has to answer
type Negotiator struct {
	fields []Field
	store  Store
	cache  *CompletionCache
	logger *slog.Logger

	now func() time.Time
}

// NewNegotiator creates a Negotiator asking fields in order.
func NewNegotiator(st Store, fields []Field, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		fields: fields,
		store:  st,
		cache:  NewCompletionCache(),
		logger: logger.With("component", "onboarding"),
		now:    time.Now,
	}
}

// Warm fills the completion cache from profiles marked complete.
func (n *Negotiator) Warm(ctx context.Context) error {
	users, err := n.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	for _, u := range users {
		if u.ConfigCompletedAt != nil {
			n.cache.Set(u.Username, n.recognized(u.Config))
		}
	}
	n.logger.Info("completion cache warmed", "complete_users", n.cache.Len())
	return nil
}

// Outstanding returns the prompts username still has to answer given the
// submitted settings. A complete submission is saved to the profile once;
// repeating it afterwards touches no storage.
func (n *Negotiator) Outstanding(ctx context.Context, username string, submitted store.Settings) ([]Prompt, error) {
	values := n.recognized(submitted)

	if n.cache.Matches(username, values) {
		return nil, nil
	}

	missing := n.missing(values)
	if len(missing) == 0 {
		saved, err := n.persist(ctx, username, values)
		if err != nil {
			return nil, err
		}
		if saved {
			return nil, nil
		}
		// Unknown user: nothing to attach the settings to, keep asking
		missing = n.fields
	}

	prompts := make([]Prompt, 0, len(missing))
	for _, f := range missing {
		prompts = append(prompts, Prompt{Name: f.Name, Title: f.Title, Choices: f.Choices})
	}
	metrics.OnboardingPrompts.Add(float64(len(prompts)))
	return prompts, nil
}

// Complete reports whether settings answer every field.
func (n *Negotiator) Complete(settings store.Settings) bool {
	return len(n.missing(n.recognized(settings))) == 0
}

func (n *Negotiator) persist(ctx context.Context, username string, values store.Settings) (bool, error) {
	if _, err := n.store.GetUser(ctx, username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			n.logger.Warn("config submitted for unknown user", "username", username)
			return false, nil
		}
		return false, fmt.Errorf("looking up user: %w", err)
	}

	if err := n.store.SaveProfileConfig(ctx, username, values, n.now()); err != nil {
		n.cache.Invalidate(username)
		return false, fmt.Errorf("saving profile config: %w", err)
	}
	n.cache.Set(username, values)
	n.logger.Info("onboarding complete", "username", username)
	return true, nil
}

// recognized keeps only known fields; absent fields become nil.
func (n *Negotiator) recognized(submitted store.Settings) store.Settings {
	out := make(store.Settings, len(n.fields))
	for _, f := range n.fields {
		if v, ok := submitted[f.Name]; ok && v != nil {
			val := *v
			out[f.Name] = &val
		} else {
			out[f.Name] = nil
		}
	}
	return out
}

func (n *Negotiator) missing(values store.Settings) []Field {
	var out []Field
	for _, f := range n.fields {
		if !f.accepts(values[f.Name]) {
			out = append(out, f)
		}
	}
	return out
}

func (f Field) accepts(v *string) bool {
	if v == nil || *v == "" {
		return false
	}
	if len(f.Choices) == 0 {
		return true
	}
	for _, c := range f.Choices {
		if strings.EqualFold(c.Value, *v) {
			return true
		}
	}
	return false
}
