// ABOUTME: Tests for the dialogue bridge
// ABOUTME: Covers language resolution, failure isolation, ingress, styling, and async turns

package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/parley/internal/dialogue"
	"github.com/2389/parley/internal/store"
)

func TestBridge_Language(t *testing.T) {
	ctx := context.Background()
	dutch := completedUser("nl@eur.nl")
	dutch.Config = store.Settings{"language": strPtr("NL")}
	h := newHarness(t, dutch, &store.User{Username: "new@eur.nl"})

	assert.Equal(t, "EN", h.bridge.Language(ctx, "nl@eur.nl", "en"), "request wins")
	assert.Equal(t, "NL", h.bridge.Language(ctx, "nl@eur.nl", ""), "profile next")
	assert.Equal(t, "NL", h.bridge.Language(ctx, "nl@eur.nl", "DE"), "unknown request ignored")
	assert.Equal(t, "EN", h.bridge.Language(ctx, "new@eur.nl", ""), "default last")
	assert.Equal(t, "EN", h.bridge.Language(ctx, "ghost@eur.nl", ""))
}

func TestBridge_ConverseNoUtterancesNoNotification(t *testing.T) {
	h := newHarness(t, completedUser("jd@eur.nl"))

	n := h.bridge.Converse(context.Background(), ConverseRequest{Room: "jd@eur.nl", Text: "silence", Notify: true})
	assert.Equal(t, 0, n)
	assert.Empty(t, h.notifier.all())
}

func TestBridge_ConverseFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, completedUser("jd@eur.nl"))
	h.engine.err = errors.New("timeout")

	n := h.bridge.Converse(context.Background(), ConverseRequest{Room: "jd@eur.nl", Text: "hi"})
	assert.Equal(t, 0, n)

	msgs, err := h.store.RoomMessagesSince(context.Background(), "jd@eur.nl", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestBridge_ConverseNotifyFlagBecomesPing(t *testing.T) {
	h := newHarness(t, completedUser("jd@eur.nl"))
	h.engine.replies["/request_diary_01"] = []dialogue.Utterance{{Text: "a"}, {Text: "b"}}

	n := h.bridge.Converse(context.Background(), ConverseRequest{Room: "jd@eur.nl", Text: "/request_diary_01", Notify: true})
	assert.Equal(t, 2, n)
	assert.Equal(t, []dispatch{{Username: "jd@eur.nl", AddPing: true}}, h.notifier.all())
}

func TestBridge_ConverseAsync(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, completedUser("jd@eur.nl"))
	h.engine.replies["hi"] = []dialogue.Utterance{{Text: "hello"}}

	h.bridge.ConverseAsync(ConverseRequest{Room: "jd@eur.nl", Text: "hi"})
	h.bridge.Wait()

	msgs, err := h.store.RoomMessagesSince(context.Background(), "jd@eur.nl", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestBridge_Ingest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, completedUser("jd@eur.nl"))

	err := h.bridge.Ingest(ctx, "jd@eur.nl", "Reminder", []store.Button{{Title: "OK", Payload: "/ok"}})
	require.NoError(t, err)

	msgs, err := h.store.RoomMessagesSince(ctx, "jd@eur.nl", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bot", msgs[0].Sender)
	assert.Equal(t, "Reminder", msgs[0].Text, "ingress text is stored as sent")
	assert.Equal(t, store.StyleNone, msgs[0].Style)
	assert.Equal(t, []dispatch{{Username: "jd@eur.nl", AddPing: true}}, h.notifier.all())
}

func TestBridge_SetNamesFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.engine.err = errors.New("down")

	h.bridge.SetNames(context.Background(), &store.User{Username: "x", FirstName: "X"}, "")
	assert.Len(t, h.engine.slots, 1)
}

func TestStyleText(t *testing.T) {
	assert.Equal(t, "<span style='color: blue;'>hi</span>", StyleText("hi", store.StyleOptional))
	assert.Equal(t, "<span style='color: red;'>hi</span>", StyleText("<span style='color: red;'>hi</span>", store.StyleOptional))
	assert.Equal(t, "hi", StyleText("hi", store.StyleNone))
}
