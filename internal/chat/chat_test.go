package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/grabyard/internal/media"
)

// Compile-time interface compliance checks.
var _ Adapter = (*MockAdapter)(nil)
var _ BotUserIDer = (*MockAdapter)(nil)

func TestActionID_RoundTrip(t *testing.T) {
	id, mode, err := ParseActionID(ActionID("abc-123", ModeAudio))
	if err != nil {
		t.Fatalf("ParseActionID: %v", err)
	}
	if id != "abc-123" || mode != ModeAudio {
		t.Errorf("got (%q, %q), want (abc-123, audio)", id, mode)
	}
}

func TestParseActionID_Invalid(t *testing.T) {
	tests := []string{
		"",
		"download",
		"download:abc",
		"download::auto",
		"download:abc:video",
		"upload:abc:auto",
		"download:abc:auto:extra",
	}
	for _, s := range tests {
		if _, _, err := ParseActionID(s); err == nil {
			t.Errorf("ParseActionID(%q) should fail", s)
		}
	}
}

func TestUpdateKindString(t *testing.T) {
	if got := UpdateProcessing.String(); got != "processing" {
		t.Errorf("UpdateProcessing = %q", got)
	}
	if got := UpdateKind(99).String(); got != "unknown" {
		t.Errorf("UpdateKind(99) = %q", got)
	}
}

func TestSurfaceIsZero(t *testing.T) {
	if !(Surface{}).IsZero() {
		t.Error("empty surface should be zero")
	}
	if (Surface{ChannelID: "C1"}).IsZero() {
		t.Error("surface with channel should not be zero")
	}
}

func TestMockAdapter_ConnectAndClose(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()

	if _, err := m.Listen(ctx); err == nil {
		t.Fatal("Listen before Connect should fail")
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Connect(ctx); err == nil {
		t.Fatal("Connect after Close should fail")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("double Close should succeed: %v", err)
	}
}

func TestMockAdapter_Unreachable(t *testing.T) {
	m := NewMockAdapter()
	m.SetUnreachable("u1", true)
	ctx := context.Background()

	if _, err := m.NotifyPrivate(ctx, "u1", "hi"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("NotifyPrivate err = %v, want ErrUnreachable", err)
	}
	if _, err := m.SendMediaPrivate(ctx, "u1", []media.Descriptor{{URL: "x"}}, Presentation{}); !errors.Is(err, ErrUnreachable) {
		t.Errorf("SendMediaPrivate err = %v, want ErrUnreachable", err)
	}
	if _, err := m.NotifyPrivate(ctx, "u2", "hi"); err != nil {
		t.Errorf("NotifyPrivate u2: %v", err)
	}
}

func TestMockAdapter_SendMediaGroups(t *testing.T) {
	m := NewMockAdapter()
	m.SetAssetRef("ref-1")

	items := make([]media.Descriptor, 12)
	sent, err := m.SendMediaPrivate(context.Background(), "u1", items, Presentation{})
	if err != nil {
		t.Fatalf("SendMediaPrivate: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(sent))
	}
	if sent[0].AssetRef != "ref-1" || sent[1].AssetRef != "" {
		t.Errorf("asset refs = %q, %q", sent[0].AssetRef, sent[1].AssetRef)
	}
	if got := len(m.CallsOf("media")); got != 1 {
		t.Errorf("media calls = %d, want 1", got)
	}
}

func TestMockAdapter_SimulateInbound(t *testing.T) {
	m := NewMockAdapter()
	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ch, err := m.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	m.SimulateInbound(StartReceived{User: "u1", Param: "abc"})
	ev := <-ch
	start, ok := ev.(StartReceived)
	if !ok {
		t.Fatalf("event type = %T, want StartReceived", ev)
	}
	if start.Param != "abc" {
		t.Errorf("Param = %q, want abc", start.Param)
	}
}
