package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/media"
)

func newOrchestrator(t *testing.T, ch chat.Channel) *Orchestrator {
	t.Helper()
	o, err := New(Opts{Channel: ch, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return o
}

func photos(n int) []media.Descriptor {
	out := make([]media.Descriptor, n)
	for i := range out {
		out[i] = media.Descriptor{URL: fmt.Sprintf("https://cdn/%d.jpg", i), Kind: media.KindPhoto, Filename: fmt.Sprintf("%d.jpg", i)}
	}
	return out
}

func TestNew_RequiresChannel(t *testing.T) {
	_, err := New(Opts{})
	assert.Error(t, err)
}

func TestDeliver_SingleInline(t *testing.T) {
	m := chat.NewMockAdapter()
	m.SetAssetRef("platform-ref-1")
	o := newOrchestrator(t, m)

	surface := chat.Surface{ChannelID: "C1", MessageID: "M1"}
	rep, err := o.Deliver(context.Background(), Delivery{
		Requester: "u1",
		Link:      "https://example.com/p/1",
		Surface:   surface,
		Inline:    true,
		Resolved:  media.Resolved{Items: photos(1), Attempted: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, "platform-ref-1", rep.LeadingRef)

	u, ok := m.LastUpdate()
	require.True(t, ok)
	assert.Equal(t, chat.UpdateMedia, u.Kind)
	require.NotNil(t, u.Media)
	assert.Equal(t, "platform-ref-1", u.Media.URL, "reflection uses the platform reference")
	assert.False(t, u.OpenPrivate)
	assert.Empty(t, u.Text)
}

func TestDeliver_BatchesAndPartialCaption(t *testing.T) {
	m := chat.NewMockAdapter()
	o := newOrchestrator(t, m)

	rep, err := o.Deliver(context.Background(), Delivery{
		Requester: "u1",
		Link:      "https://example.com/s/1",
		Surface:   chat.Surface{ChannelID: "C1", MessageID: "M1"},
		Inline:    true,
		Resolved:  media.Resolved{Items: photos(23), Attempted: 25, Failed: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 23, rep.Delivered)

	batches := m.CallsOf("media")
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Items, 10)
	assert.Len(t, batches[1].Items, 10)
	assert.Len(t, batches[2].Items, 3)

	u, ok := m.LastUpdate()
	require.True(t, ok)
	assert.Equal(t, "Found 23 media, sent via private message (2 of 25 failed)", u.Text)
	assert.True(t, u.OpenPrivate)
	require.NotNil(t, u.Media)
	assert.Equal(t, "https://cdn/0.jpg", u.Media.URL, "falls back to the remote url")
}

func TestDeliver_SinglePartialCaption(t *testing.T) {
	m := chat.NewMockAdapter()
	o := newOrchestrator(t, m)

	_, err := o.Deliver(context.Background(), Delivery{
		Requester: "u1",
		Surface:   chat.Surface{ChannelID: "C1", MessageID: "M1"},
		Inline:    true,
		Resolved:  media.Resolved{Items: photos(1), Attempted: 3, Failed: 2},
	})
	require.NoError(t, err)

	u, _ := m.LastUpdate()
	assert.Equal(t, "Sent via private message (2 of 3 failed)", u.Text)
}

func TestDeliver_DirectReplacesSurface(t *testing.T) {
	tests := []struct {
		name     string
		resolved media.Resolved
		wantText string
	}{
		{"single", media.Resolved{Items: photos(1), Attempted: 1}, ""},
		{"multi", media.Resolved{Items: photos(4), Attempted: 4}, "4 media files"},
		{"multi partial", media.Resolved{Items: photos(3), Attempted: 5, Failed: 2}, "3 media files (2 of 5 failed)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := chat.NewMockAdapter()
			o := newOrchestrator(t, m)

			_, err := o.Deliver(context.Background(), Delivery{
				Requester: "u1",
				Surface:   chat.Surface{ChannelID: "D1", MessageID: "M1", Private: true},
				Resolved:  tt.resolved,
			})
			require.NoError(t, err)

			u, ok := m.LastUpdate()
			require.True(t, ok)
			assert.Equal(t, chat.UpdateReplace, u.Kind)
			assert.Equal(t, tt.wantText, u.Text)
		})
	}
}

func TestDeliver_Unreachable(t *testing.T) {
	m := chat.NewMockAdapter()
	m.SetUnreachable("u1", true)
	o := newOrchestrator(t, m)

	_, err := o.Deliver(context.Background(), Delivery{
		Requester: "u1",
		Inline:    true,
		Resolved:  media.Resolved{Items: photos(2), Attempted: 2},
	})
	assert.ErrorIs(t, err, chat.ErrUnreachable)
	_, updated := m.LastUpdate()
	assert.False(t, updated)
}

func TestDeliver_OtherSendError(t *testing.T) {
	m := chat.NewMockAdapter()
	m.SetMediaError(errors.New("file too large"))
	o := newOrchestrator(t, m)

	_, err := o.Deliver(context.Background(), Delivery{
		Requester: "u1",
		Resolved:  media.Resolved{Items: photos(1), Attempted: 1},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, chat.ErrUnreachable)
}

func TestDeliver_Empty(t *testing.T) {
	o := newOrchestrator(t, chat.NewMockAdapter())
	_, err := o.Deliver(context.Background(), Delivery{Requester: "u1"})
	assert.Error(t, err)
}

func TestDeliver_NoSurface(t *testing.T) {
	m := chat.NewMockAdapter()
	o := newOrchestrator(t, m)

	rep, err := o.Deliver(context.Background(), Delivery{
		Requester: "u1",
		Link:      "https://example.com/p/1",
		Resolved:  media.Resolved{Items: photos(2), Attempted: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Delivered)
	assert.Len(t, m.CallsOf("media"), 1)
	_, ok := m.LastUpdate()
	assert.False(t, ok, "no surface to update")
}
