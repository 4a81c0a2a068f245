// Package slack implements the chat Adapter for Slack using Socket Mode.
// Inline submissions arrive through a slash command, direct ones as messages
// in the app's DM.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/media"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// maxItemsPerMessage keeps media messages in line with the delivery batches.
	maxItemsPerMessage = 10
	// DefaultCommand is the slash command handled when none is configured.
	DefaultCommand = "/grab"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slackapi.MsgOption) (string, error)
	OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
}

var _ slackClient = (*slackapi.Client)(nil)

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// webhookPoster answers a slash command through its response URL.
type webhookPoster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Adapter implements chat.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	postWebhook  webhookPoster
	appToken     string
	botToken     string
	command      string
	log          zerolog.Logger
	mu           sync.Mutex
	botUserID    string
	connected    bool
	closed       bool
	inbound      chan chat.Event
	cancelFunc   context.CancelFunc
	wg           sync.WaitGroup
	dmChannels   map[chat.UserID]string
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Command  string // slash command, defaults to DefaultCommand
	Logger   zerolog.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client  slackClient
	Socket  socketClient
	Webhook webhookPoster
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	command := opts.Command
	if command == "" {
		command = DefaultCommand
	}
	if !strings.HasPrefix(command, "/") {
		command = "/" + command
	}
	webhook := opts.Webhook
	if webhook == nil {
		webhook = slackapi.PostWebhookContext
	}

	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		postWebhook:  webhook,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		command:      command,
		log:          opts.Logger.With().Str("platform", "slack").Logger(),
		inbound:      make(chan chat.Event, 100),
		dmChannels:   make(map[chat.UserID]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect authenticates the bot token and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.log.Info().Str("user", auth.User).Str("team", auth.Team).Msg("authenticated")

	a.connected = true
	return nil
}

// Listen starts the Socket Mode pump and returns the inbound event channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.runWithReconnect(listenCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.pumpEvents(listenCtx)
	}()

	return a.inbound, nil
}

// Close stops the Socket Mode pump and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.mu.Unlock()

	a.wg.Wait()
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// NotifyPrivate posts text to the user's DM with the app.
func (a *Adapter) NotifyPrivate(ctx context.Context, user chat.UserID, text string) (chat.MessageRef, error) {
	if err := a.ready(); err != nil {
		return chat.MessageRef{}, err
	}
	channelID, err := a.privateChannel(ctx, user)
	if err != nil {
		return chat.MessageRef{}, err
	}
	ts, err := a.post(ctx, channelID, slackapi.MsgOptionText(text, false))
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("slack: notify: %w", err)
	}
	return chat.MessageRef{ChannelID: channelID, MessageID: ts}, nil
}

// Retract deletes a message previously sent to the user.
func (a *Adapter) Retract(ctx context.Context, user chat.UserID, ref chat.MessageRef) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, delErr := a.client.DeleteMessageContext(ctx, ref.ChannelID, ref.MessageID)
		return delErr
	})
	if err != nil {
		return fmt.Errorf("slack: retract: %w", err)
	}
	return nil
}

// SendMediaPrivate posts items to the user's DM, up to ten per message.
func (a *Adapter) SendMediaPrivate(ctx context.Context, user chat.UserID, items []media.Descriptor, p chat.Presentation) ([]chat.Sent, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	channelID, err := a.privateChannel(ctx, user)
	if err != nil {
		return nil, err
	}

	var sent []chat.Sent
	for start := 0; start < len(items); start += maxItemsPerMessage {
		batch := items[start:min(start+maxItemsPerMessage, len(items))]
		text, blocks := mediaBlocks(batch, p, len(items) == 1)
		ts, err := a.post(ctx, channelID,
			slackapi.MsgOptionText(text, false),
			slackapi.MsgOptionBlocks(blocks...),
			slackapi.MsgOptionEnableLinkUnfurl(),
		)
		if err != nil {
			return sent, fmt.Errorf("slack: send media: %w", err)
		}
		sent = append(sent, chat.Sent{Ref: chat.MessageRef{ChannelID: channelID, MessageID: ts}})
	}
	return sent, nil
}

// UpdateSurface rewrites, or for UpdateReplace deletes, the card message.
func (a *Adapter) UpdateSurface(ctx context.Context, s chat.Surface, u chat.SurfaceUpdate) error {
	if err := a.ready(); err != nil {
		return err
	}

	if u.Kind == chat.UpdateReplace {
		err := retryOnRateLimit(ctx, func() error {
			_, _, delErr := a.client.DeleteMessageContext(ctx, s.ChannelID, s.MessageID)
			return delErr
		})
		if err != nil {
			return fmt.Errorf("slack: delete surface: %w", err)
		}
		if u.Text == "" {
			return nil
		}
		if _, err := a.post(ctx, s.ChannelID, slackapi.MsgOptionText(u.Text, false)); err != nil {
			return fmt.Errorf("slack: replace surface: %w", err)
		}
		return nil
	}

	text, blocks := a.render(u)
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, updErr := a.client.UpdateMessageContext(ctx, s.ChannelID, s.MessageID,
			slackapi.MsgOptionText(text, false),
			slackapi.MsgOptionBlocks(blocks...),
		)
		return updErr
	})
	if err != nil {
		return fmt.Errorf("slack: update surface: %w", err)
	}
	return nil
}

// PresentCard posts the card in the conversation the submission came from.
func (a *Adapter) PresentCard(ctx context.Context, ev chat.LinkSubmitted, card chat.Card) (chat.Surface, error) {
	if err := a.ready(); err != nil {
		return chat.Surface{}, err
	}
	text, blocks := a.render(chat.SurfaceUpdate{Kind: chat.UpdateOptions, RequestID: card.RequestID, Link: card.Link})
	ts, err := a.post(ctx, ev.Conv.ChannelID,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return chat.Surface{}, fmt.Errorf("slack: post card: %w", err)
	}
	return chat.Surface{ChannelID: ev.Conv.ChannelID, MessageID: ts, Private: ev.Conv.Private}, nil
}

// Reply answers a slash command ephemerally through its response URL, or
// posts to the conversation for plain messages.
func (a *Adapter) Reply(ctx context.Context, conv chat.Conversation, text string) error {
	if err := a.ready(); err != nil {
		return err
	}
	if conv.Token != "" {
		msg := &slackapi.WebhookMessage{Text: text, ResponseType: slackapi.ResponseTypeEphemeral}
		if err := a.postWebhook(ctx, conv.Token, msg); err != nil {
			return fmt.Errorf("slack: reply: %w", err)
		}
		return nil
	}
	if _, err := a.post(ctx, conv.ChannelID, slackapi.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: reply: %w", err)
	}
	return nil
}

// Acknowledge answers a click with an ephemeral message. The socket request
// itself was acknowledged on arrival.
func (a *Adapter) Acknowledge(ctx context.Context, ev chat.ActionClicked, text string, alert bool) error {
	if text == "" {
		return nil
	}
	if alert {
		text = ":warning: " + text
	}
	_, err := a.client.PostEphemeralContext(ctx, ev.Conv.ChannelID, string(ev.User), slackapi.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: acknowledge: %w", err)
	}
	return nil
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("socket mode disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error().Int("attempts", a.maxReconnect).Msg("socket mode reconnection attempts exhausted")
}

// pumpEvents reads Socket Mode events and converts them to chat events.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

// handleSocketEvent acknowledges and translates a single Socket Mode event.
func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		a.ack(evt)
		if ev, ok := evt.Data.(slackevents.EventsAPIEvent); ok {
			a.handleEventsAPI(ev)
		}

	case socketmode.EventTypeSlashCommand:
		a.ack(evt)
		if cmd, ok := evt.Data.(slackapi.SlashCommand); ok {
			a.handleSlashCommand(cmd)
		}

	case socketmode.EventTypeInteractive:
		a.ack(evt)
		if cb, ok := evt.Data.(slackapi.InteractionCallback); ok {
			a.handleInteraction(cb)
		}

	case socketmode.EventTypeConnecting:
		a.log.Debug().Msg("connecting to socket mode")

	case socketmode.EventTypeConnected:
		a.log.Info().Msg("connected to socket mode")

	case socketmode.EventTypeConnectionError:
		a.log.Warn().Interface("data", evt.Data).Msg("connection error")

	case socketmode.EventTypeDisconnect:
		a.log.Info().Msg("server requested disconnect, will reconnect")
	}
}

func (a *Adapter) ack(evt socketmode.Event) {
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}
}

func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		a.handleMessage(ev)
	}
}

// handleMessage converts a DM to the app into a submission or start command.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.ChannelType != "im" {
		return
	}
	// Filter bot messages and message subtypes (edits, deletes, etc.).
	if ev.User == a.BotUserID() || ev.BotID != "" || ev.SubType != "" {
		return
	}

	user := chat.UserID(ev.User)
	conv := chat.Conversation{Platform: "slack", ChannelID: ev.Channel, MessageID: ev.TimeStamp, Private: true}

	a.mu.Lock()
	a.dmChannels[user] = ev.Channel
	a.mu.Unlock()

	if param, ok := parseStart(ev.Text); ok {
		a.emit(chat.StartReceived{User: user, Param: param, Conv: conv})
		return
	}
	a.emit(chat.LinkSubmitted{User: user, Text: ev.Text, Conv: conv})
}

func (a *Adapter) handleSlashCommand(cmd slackapi.SlashCommand) {
	if cmd.Command != a.command {
		return
	}
	private := strings.HasPrefix(cmd.ChannelID, "D")
	user := chat.UserID(cmd.UserID)
	conv := chat.Conversation{Platform: "slack", ChannelID: cmd.ChannelID, Token: cmd.ResponseURL, Private: private}

	if param, ok := parseStart(cmd.Text); ok {
		a.emit(chat.StartReceived{User: user, Param: param, Conv: conv})
		return
	}
	a.emit(chat.LinkSubmitted{
		User:   user,
		Text:   cmd.Text,
		Inline: !private,
		Conv:   conv,
	})
}

func (a *Adapter) handleInteraction(cb slackapi.InteractionCallback) {
	if cb.Type != slackapi.InteractionTypeBlockActions {
		return
	}
	for _, action := range cb.ActionCallback.BlockActions {
		id, mode, err := chat.ParseActionID(action.ActionID)
		if err != nil {
			continue
		}
		messageTS := cb.Container.MessageTs
		if messageTS == "" {
			messageTS = cb.Message.Timestamp
		}
		private := strings.HasPrefix(cb.Channel.ID, "D")
		a.emit(chat.ActionClicked{
			User:      chat.UserID(cb.User.ID),
			RequestID: id,
			Mode:      mode,
			Surface:   chat.Surface{ChannelID: cb.Channel.ID, MessageID: messageTS, Private: private},
			Conv:      chat.Conversation{Platform: "slack", ChannelID: cb.Channel.ID, Token: cb.ResponseURL, Private: private},
		})
		return
	}
}

func (a *Adapter) emit(ev chat.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- ev:
	default:
		a.log.Warn().Str("type", fmt.Sprintf("%T", ev)).Msg("inbound queue full, dropping event")
	}
}

// privateChannel opens (or reuses) the DM between the app and user.
func (a *Adapter) privateChannel(ctx context.Context, user chat.UserID) (string, error) {
	a.mu.Lock()
	id, ok := a.dmChannels[user]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	var ch *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, _, _, apiErr = a.client.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
			Users:    []string{string(user)},
			ReturnIM: true,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: open dm with %s: %w: %v", user, chat.ErrUnreachable, err)
	}
	a.mu.Lock()
	a.dmChannels[user] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

func (a *Adapter) post(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, error) {
	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = a.client.PostMessageContext(ctx, channelID, options...)
		return postErr
	})
	if err != nil {
		return "", classify(err)
	}
	return ts, nil
}

// classify maps Slack's refusals to reach a user onto chat.ErrUnreachable.
func classify(err error) error {
	var resp slackapi.SlackErrorResponse
	if errors.As(err, &resp) {
		switch resp.Err {
		case "cannot_dm_bot", "user_not_found", "user_disabled", "messages_tab_disabled":
			return fmt.Errorf("%w: %v", chat.ErrUnreachable, err)
		}
	}
	return err
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// parseStart recognises "start" with an optional parameter.
func parseStart(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || strings.ToLower(strings.TrimLeft(fields[0], "/!")) != "start" {
		return "", false
	}
	if len(fields) > 1 {
		return fields[1], true
	}
	return "", true
}
