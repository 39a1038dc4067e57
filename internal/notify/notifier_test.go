package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNotifierFiltersByEventType(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionClosed}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventFlatten, "flattened", "ignored"))
	assert.Empty(t, sender.titles)

	require.NoError(t, n.Notify(ctx, EventPositionClosed, "closed", "delivered"))
	assert.Equal(t, []string{"closed"}, sender.titles)
}

func TestNotifierEmptyAllowListPassesEverything(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventFlatten, "flattened", "delivered"))
	assert.Len(t, sender.titles, 1)
}

func TestNotifierFailingSenderDoesNotBlockOthers(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("webhook down")}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.Notify(context.Background(), EventPositionClosed, "closed", "msg")
	assert.ErrorContains(t, err, "broken")
	assert.Equal(t, []string{"closed"}, healthy.titles)
}
