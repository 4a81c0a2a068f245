package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/media"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu        sync.Mutex
	authResp  *slackapi.AuthTestResponse
	authErr   error
	posted    []postedMessage
	postErr   error
	updated   []postedMessage
	deleted   []string
	ephemeral []postedMessage
	openErr   error
	tsCounter int
}

type postedMessage struct {
	channelID string
	userID    string
	values    url.Values
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123", User: "grabber", Team: "acme"},
	}
}

// decode applies options the way the Slack client would and returns the
// form values it would send.
func decode(channelID string, options []slackapi.MsgOption) url.Values {
	_, values, _ := slackapi.UnsafeApplyMsgOptions("xoxb-test", channelID, "https://slack.com/api/", options...)
	return values
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, values: decode(channelID, options)})
	m.tsCounter++
	return channelID, fmt.Sprintf("1700000000.%06d", m.tsCounter), nil
}

func (m *mockSlackClient) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, postedMessage{channelID: channelID + "/" + timestamp, values: decode(channelID, options)})
	return channelID, timestamp, "", nil
}

func (m *mockSlackClient) DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channel+"/"+messageTimestamp)
	return channel, messageTimestamp, nil
}

func (m *mockSlackClient) PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slackapi.MsgOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ephemeral = append(m.ephemeral, postedMessage{channelID: channelID, userID: userID, values: decode(channelID, options)})
	return "1700000000.999999", nil
}

func (m *mockSlackClient) OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, false, false, m.openErr
	}
	ch := &slackapi.Channel{}
	ch.ID = "D_" + params.Users[0]
	return ch, false, false, nil
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events chan socketmode.Event
	mu     sync.Mutex
	acked  []socketmode.Request
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{events: make(chan socketmode.Event, 100)}
}

func (m *mockSocketClient) RunContext(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *mockSocketClient) EventsChan() chan socketmode.Event {
	return m.events
}

func (m *mockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, req)
}

func (m *mockSocketClient) ackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// --- Helpers ---

type webhookCall struct {
	url string
	msg *slackapi.WebhookMessage
}

func setupAdapter(t *testing.T) (*Adapter, *mockSlackClient, *mockSocketClient, <-chan chat.Event, *[]webhookCall) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()
	var hooks []webhookCall
	a, err := New(AdapterOpts{
		Client: client,
		Socket: socket,
		Logger: zerolog.Nop(),
		Webhook: func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error {
			hooks = append(hooks, webhookCall{url, msg})
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, client, socket, ch, &hooks
}

func receive(t *testing.T, ch <-chan chat.Event) chat.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectNone(t *testing.T, ch <-chan chat.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func imEvent(user, text string) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					User:        user,
					Text:        text,
					Channel:     "D_" + user,
					ChannelType: "im",
					TimeStamp:   "1700000000.000100",
				},
			},
		},
		Request: &socketmode.Request{EnvelopeID: "env-1"},
	}
}

func slashEvent(channelID, text string) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeSlashCommand,
		Data: slackapi.SlashCommand{
			Command:     DefaultCommand,
			Text:        text,
			UserID:      "U1",
			UserName:    "alice",
			ChannelID:   channelID,
			ResponseURL: "https://hooks.slack.com/commands/1",
		},
		Request: &socketmode.Request{EnvelopeID: "env-2"},
	}
}

func clickEvent(actionID string) socketmode.Event {
	cb := slackapi.InteractionCallback{
		Type:        slackapi.InteractionTypeBlockActions,
		User:        slackapi.User{ID: "U1"},
		ResponseURL: "https://hooks.slack.com/actions/1",
		Container:   slackapi.Container{MessageTs: "1700000000.000001"},
		ActionCallback: slackapi.ActionCallbacks{
			BlockActions: []*slackapi.BlockAction{{ActionID: actionID}},
		},
	}
	cb.Channel.ID = "C1"
	return socketmode.Event{
		Type:    socketmode.EventTypeInteractive,
		Data:    cb,
		Request: &socketmode.Request{EnvelopeID: "env-3"},
	}
}

// blocksOf decodes the "blocks" form value into generic maps.
func blocksOf(t *testing.T, v url.Values) []map[string]interface{} {
	t.Helper()
	var blocks []map[string]interface{}
	if err := json.Unmarshal([]byte(v.Get("blocks")), &blocks); err != nil {
		t.Fatalf("decode blocks %q: %v", v.Get("blocks"), err)
	}
	return blocks
}

// elementsOf returns the elements of the actions block.
func elementsOf(t *testing.T, v url.Values) []map[string]interface{} {
	t.Helper()
	for _, b := range blocksOf(t, v) {
		if b["type"] != "actions" {
			continue
		}
		var out []map[string]interface{}
		for _, e := range b["elements"].([]interface{}) {
			out = append(out, e.(map[string]interface{}))
		}
		return out
	}
	return nil
}

// --- Tests ---

func TestNew_RequiresTokens(t *testing.T) {
	if _, err := New(AdapterOpts{AppToken: "xapp"}); err == nil {
		t.Error("expected error without bot token")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb"}); err == nil {
		t.Error("expected error without app token")
	}
}

func TestNew_CommandPrefix(t *testing.T) {
	a, err := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient(), Command: "fetch"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.command != "/fetch" {
		t.Errorf("command = %q, want /fetch", a.command)
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = errors.New("invalid_auth")
	a, _ := New(AdapterOpts{Client: client, Socket: newMockSocketClient(), Logger: zerolog.Nop()})
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient(), Logger: zerolog.Nop()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error before Connect")
	}
}

func TestDirectMessage(t *testing.T) {
	a, client, socket, ch, _ := setupAdapter(t)

	socket.events <- imEvent("U1", "https://example.com/v/1")
	ev, ok := receive(t, ch).(chat.LinkSubmitted)
	if !ok {
		t.Fatal("expected LinkSubmitted")
	}
	if ev.Inline || !ev.Conv.Private || ev.User != "U1" || ev.Conv.ChannelID != "D_U1" {
		t.Errorf("event = %+v", ev)
	}
	if socket.ackCount() != 1 {
		t.Errorf("acks = %d, want 1", socket.ackCount())
	}

	// The DM channel learned from the message is reused for private sends.
	if _, err := a.NotifyPrivate(context.Background(), "U1", "hi"); err != nil {
		t.Fatalf("NotifyPrivate: %v", err)
	}
	if client.posted[0].channelID != "D_U1" {
		t.Errorf("posted to %q", client.posted[0].channelID)
	}
}

func TestDirectMessage_Start(t *testing.T) {
	_, _, socket, ch, _ := setupAdapter(t)
	socket.events <- imEvent("U1", "start req-9")
	ev, ok := receive(t, ch).(chat.StartReceived)
	if !ok || ev.Param != "req-9" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDirectMessage_Filtered(t *testing.T) {
	_, _, socket, ch, _ := setupAdapter(t)
	socket.events <- imEvent("U_BOT_123", "https://example.com/a")

	edited := imEvent("U1", "https://example.com/a")
	edited.Data.(slackevents.EventsAPIEvent).InnerEvent.Data.(*slackevents.MessageEvent).SubType = "message_changed"
	socket.events <- edited

	channel := imEvent("U1", "https://example.com/a")
	channel.Data.(slackevents.EventsAPIEvent).InnerEvent.Data.(*slackevents.MessageEvent).ChannelType = "channel"
	socket.events <- channel

	expectNone(t, ch)
}

func TestSlashCommand(t *testing.T) {
	tests := []struct {
		name       string
		channel    string
		wantInline bool
	}{
		{"channel", "C1", true},
		{"dm", "D1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, socket, ch, _ := setupAdapter(t)
			socket.events <- slashEvent(tt.channel, "https://example.com/v/1")
			ev, ok := receive(t, ch).(chat.LinkSubmitted)
			if !ok {
				t.Fatal("expected LinkSubmitted")
			}
			if ev.Inline != tt.wantInline || ev.Conv.Token != "https://hooks.slack.com/commands/1" {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}

func TestSlashCommand_OtherCommandIgnored(t *testing.T) {
	_, _, socket, ch, _ := setupAdapter(t)
	evt := slashEvent("C1", "https://example.com/a")
	cmd := evt.Data.(slackapi.SlashCommand)
	cmd.Command = "/other"
	evt.Data = cmd
	socket.events <- evt
	expectNone(t, ch)
}

func TestReply_ViaResponseURL(t *testing.T) {
	a, client, _, _, hooks := setupAdapter(t)
	conv := chat.Conversation{ChannelID: "C1", Token: "https://hooks.slack.com/commands/1"}
	if err := a.Reply(context.Background(), conv, "slow down"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(*hooks) != 1 || (*hooks)[0].msg.ResponseType != slackapi.ResponseTypeEphemeral {
		t.Fatalf("hooks = %+v", *hooks)
	}
	if len(client.posted) != 0 {
		t.Error("slash replies should not post to the channel")
	}
}

func TestPresentCard(t *testing.T) {
	a, client, _, _, _ := setupAdapter(t)
	ev := chat.LinkSubmitted{User: "U1", Inline: true, Conv: chat.Conversation{ChannelID: "C1"}}

	s, err := a.PresentCard(context.Background(), ev, chat.Card{RequestID: "req-1", Link: "https://example.com/v/1"})
	if err != nil {
		t.Fatalf("PresentCard: %v", err)
	}
	if s.ChannelID != "C1" || s.MessageID != "1700000000.000001" || s.Private {
		t.Errorf("surface = %+v", s)
	}

	elements := elementsOf(t, client.posted[0].values)
	if len(elements) != 3 {
		t.Fatalf("elements = %d, want 3", len(elements))
	}
	if elements[0]["action_id"] != "download:req-1:auto" || elements[1]["action_id"] != "download:req-1:audio" {
		t.Errorf("mode action ids = %v, %v", elements[0]["action_id"], elements[1]["action_id"])
	}
	if elements[2]["url"] != "https://example.com/v/1" {
		t.Errorf("link url = %v", elements[2]["url"])
	}
}

func TestClick_EmitsAndAcknowledges(t *testing.T) {
	a, client, socket, ch, _ := setupAdapter(t)
	socket.events <- clickEvent("download:req-1:audio")

	ev, ok := receive(t, ch).(chat.ActionClicked)
	if !ok {
		t.Fatal("expected ActionClicked")
	}
	want := chat.Surface{ChannelID: "C1", MessageID: "1700000000.000001"}
	if ev.RequestID != "req-1" || ev.Mode != chat.ModeAudio || ev.Surface != want {
		t.Errorf("click = %+v", ev)
	}

	if err := a.Acknowledge(context.Background(), ev, "Open a private chat with the bot and retry", true); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if len(client.ephemeral) != 1 || client.ephemeral[0].userID != "U1" {
		t.Fatalf("ephemeral = %+v", client.ephemeral)
	}
	if text := client.ephemeral[0].values.Get("text"); !strings.HasPrefix(text, ":warning:") {
		t.Errorf("alert text = %q", text)
	}

	if err := a.Acknowledge(context.Background(), ev, "", false); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if len(client.ephemeral) != 1 {
		t.Error("empty acknowledgements post nothing")
	}
}

func TestClick_LinkButtonIgnored(t *testing.T) {
	_, _, socket, ch, _ := setupAdapter(t)
	socket.events <- clickEvent(linkActionID)
	expectNone(t, ch)
	if socket.ackCount() != 1 {
		t.Error("link clicks are still acknowledged")
	}
}

func TestNotifyPrivate_Unreachable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockSlackClient)
	}{
		{"open refused", func(m *mockSlackClient) { m.openErr = errors.New("user_not_found") }},
		{"post refused", func(m *mockSlackClient) { m.postErr = slackapi.SlackErrorResponse{Err: "cannot_dm_bot"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, client, _, _, _ := setupAdapter(t)
			tt.setup(client)
			_, err := a.NotifyPrivate(context.Background(), "U1", "x")
			if !errors.Is(err, chat.ErrUnreachable) {
				t.Fatalf("err = %v, want ErrUnreachable", err)
			}
		})
	}
}

func TestNotifyPrivate_Retract(t *testing.T) {
	a, client, _, _, _ := setupAdapter(t)
	ref, err := a.NotifyPrivate(context.Background(), "U1", "(｡•̀ᴗ-)✧")
	if err != nil {
		t.Fatalf("NotifyPrivate: %v", err)
	}
	if err := a.Retract(context.Background(), "U1", ref); err != nil {
		t.Fatalf("Retract: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "D_U1/"+ref.MessageID {
		t.Errorf("deleted = %v", client.deleted)
	}
}

func TestSendMediaPrivate(t *testing.T) {
	a, client, _, _, _ := setupAdapter(t)
	var items []media.Descriptor
	for i := 0; i < 11; i++ {
		items = append(items, media.Descriptor{URL: fmt.Sprintf("https://cdn/%d.jpg", i), Kind: media.KindPhoto})
	}

	sent, err := a.SendMediaPrivate(context.Background(), "U1", items, chat.Presentation{Link: "https://example.com/p"})
	if err != nil {
		t.Fatalf("SendMediaPrivate: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sent))
	}
	if n := len(blocksOf(t, client.posted[0].values)); n != 10 {
		t.Errorf("first message blocks = %d, want 10", n)
	}
	if elementsOf(t, client.posted[0].values) != nil {
		t.Error("multi sends carry no link control")
	}
}

func TestSendMediaPrivate_SingleVideo(t *testing.T) {
	a, client, _, _, _ := setupAdapter(t)
	items := []media.Descriptor{{URL: "https://cdn/v.mp4", Kind: media.KindVideo, Filename: "v.mp4"}}
	if _, err := a.SendMediaPrivate(context.Background(), "U1", items, chat.Presentation{Link: "https://example.com/p"}); err != nil {
		t.Fatalf("SendMediaPrivate: %v", err)
	}
	blocks := blocksOf(t, client.posted[0].values)
	if len(blocks) != 2 || blocks[0]["type"] != "section" {
		t.Fatalf("blocks = %+v", blocks)
	}
	if got := client.posted[0].values.Get("text"); got != "https://cdn/v.mp4" {
		t.Errorf("fallback text = %q", got)
	}
}

func TestUpdateSurface(t *testing.T) {
	surface := chat.Surface{ChannelID: "C1", MessageID: "1700000000.000001"}
	tests := []struct {
		name         string
		update       chat.SurfaceUpdate
		wantText     string
		wantElements int
	}{
		{"options", chat.SurfaceUpdate{Kind: chat.UpdateOptions, RequestID: "r1", Link: "https://e.com/1"}, cardText, 3},
		{"processing", chat.SurfaceUpdate{Kind: chat.UpdateProcessing, Link: "https://e.com/1"}, processingText, 1},
		{"error", chat.SurfaceUpdate{Kind: chat.UpdateError, Link: "https://e.com/1", Text: "⚠️ Error: nope"}, "⚠️ Error: nope", 1},
		{"unreachable", chat.SurfaceUpdate{Kind: chat.UpdateUnreachable, RequestID: "r1", Link: "https://e.com/1"}, "start r1", 4},
		{"media", chat.SurfaceUpdate{
			Kind: chat.UpdateMedia, Link: "https://e.com/1", Text: "Found 2 media, sent via private message",
			Media: &media.Descriptor{URL: "https://cdn/a.jpg", Kind: media.KindPhoto}, OpenPrivate: true,
		}, "Found 2 media", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, client, _, _, _ := setupAdapter(t)
			if err := a.UpdateSurface(context.Background(), surface, tt.update); err != nil {
				t.Fatalf("UpdateSurface: %v", err)
			}
			if len(client.updated) != 1 || client.updated[0].channelID != "C1/1700000000.000001" {
				t.Fatalf("updated = %+v", client.updated)
			}
			v := client.updated[0].values
			if !strings.Contains(v.Get("text"), tt.wantText) {
				t.Errorf("text = %q, want to contain %q", v.Get("text"), tt.wantText)
			}
			if got := len(elementsOf(t, v)); got != tt.wantElements {
				t.Errorf("elements = %d, want %d", got, tt.wantElements)
			}
		})
	}
}

func TestUpdateSurface_Replace(t *testing.T) {
	a, client, _, _, _ := setupAdapter(t)
	surface := chat.Surface{ChannelID: "D_U1", MessageID: "1700000000.000001", Private: true}

	if err := a.UpdateSurface(context.Background(), surface, chat.SurfaceUpdate{Kind: chat.UpdateReplace}); err != nil {
		t.Fatalf("UpdateSurface: %v", err)
	}
	if len(client.deleted) != 1 || len(client.posted) != 0 {
		t.Errorf("deleted = %v, posted = %d", client.deleted, len(client.posted))
	}

	if err := a.UpdateSurface(context.Background(), surface, chat.SurfaceUpdate{Kind: chat.UpdateReplace, Text: "4 media files"}); err != nil {
		t.Fatalf("UpdateSurface: %v", err)
	}
	if len(client.posted) != 1 || client.posted[0].values.Get("text") != "4 media files" {
		t.Errorf("posted = %+v", client.posted)
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, _, socket, ch, _ := setupAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("inbound channel should be closed")
	}
	// Late socket events are not delivered after close.
	socket.events <- imEvent("U1", "https://example.com/a")
}

func TestRetryOnRateLimit(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 2 {
			return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = retryOnRateLimit(ctx, func() error { return &slackapi.RateLimitedError{RetryAfter: time.Hour} })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

