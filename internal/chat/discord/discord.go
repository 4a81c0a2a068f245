// Package discord implements the chat Adapter for Discord using the Gateway
// WebSocket. Inline submissions arrive through a slash command, direct ones
// as private messages to the bot.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/media"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited calls.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// maxEmbeds is the number of embeds Discord accepts per message.
	maxEmbeds = 10
	// interactionTTL is how long Discord accepts follow-ups on a token.
	interactionTTL = 15 * time.Minute
	// DefaultCommand is the slash command name registered when none is configured.
	DefaultCommand = "grab"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponse(interaction *discordgo.Interaction, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ session = (*discordgo.Session)(nil)

type heldInteraction struct {
	i  *discordgo.Interaction
	at time.Time
}

// Adapter implements chat.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess         session
	botToken     string
	guildID      string
	command      string
	log          zerolog.Logger
	mu           sync.Mutex
	botUserID    string
	appID        string
	connected    bool
	closed       bool
	inbound      chan chat.Event
	removers     []func()
	interactions map[string]heldInteraction // by interaction token
	dmChannels   map[chat.UserID]string
	baseBackoff  time.Duration
	maxBackoff   time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	GuildID  string // register the slash command in one guild; empty registers globally
	Command  string // slash command name, defaults to DefaultCommand
	Logger   zerolog.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	command := opts.Command
	if command == "" {
		command = DefaultCommand
	}

	return &Adapter{
		sess:         opts.Session,
		botToken:     opts.BotToken,
		guildID:      opts.GuildID,
		command:      command,
		log:          opts.Logger.With().Str("platform", "discord").Logger(),
		inbound:      make(chan chat.Event, 100),
		interactions: make(map[string]heldInteraction),
		dmChannels:   make(map[chat.UserID]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.sess = dg
	}

	// The Ready handler captures the bot identity and registers the slash
	// command on every (re)connect.
	a.removers = append(a.removers,
		a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			a.handleReady(r)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
			a.log.Warn().Msg("gateway disconnected, discordgo will auto-reconnect")
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
			a.log.Info().Msg("gateway session resumed")
		}),
	)

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events from Discord. Must be called
// after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removers = append(a.removers,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			a.handleInteraction(i)
		}),
	)
	return a.inbound, nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removers {
		remove()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// NotifyPrivate sends a silent text to the user's DM channel.
func (a *Adapter) NotifyPrivate(ctx context.Context, user chat.UserID, text string) (chat.MessageRef, error) {
	if err := a.ready(); err != nil {
		return chat.MessageRef{}, err
	}
	channelID, err := a.privateChannel(ctx, user)
	if err != nil {
		return chat.MessageRef{}, err
	}
	msg, err := a.send(ctx, channelID, &discordgo.MessageSend{
		Content: text,
		Flags:   discordgo.MessageFlagsSuppressNotifications,
	})
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("discord: notify: %w", err)
	}
	return chat.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

// Retract deletes a message previously sent to the user.
func (a *Adapter) Retract(ctx context.Context, user chat.UserID, ref chat.MessageRef) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	})
	if err != nil {
		return fmt.Errorf("discord: retract: %w", err)
	}
	return nil
}

// SendMediaPrivate sends items to the user's DM channel, up to ten per
// message. Photos and GIFs become image embeds; other kinds are posted as
// links for Discord to unfurl.
func (a *Adapter) SendMediaPrivate(ctx context.Context, user chat.UserID, items []media.Descriptor, p chat.Presentation) ([]chat.Sent, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	channelID, err := a.privateChannel(ctx, user)
	if err != nil {
		return nil, err
	}

	var sent []chat.Sent
	for start := 0; start < len(items); start += maxEmbeds {
		batch := items[start:min(start+maxEmbeds, len(items))]
		data := mediaMessage(batch, p, len(items) == 1)
		msg, err := a.send(ctx, channelID, data)
		if err != nil {
			return sent, fmt.Errorf("discord: send media: %w", err)
		}
		sent = append(sent, chat.Sent{
			Ref:      chat.MessageRef{ChannelID: channelID, MessageID: msg.ID},
			AssetRef: assetRef(msg),
		})
	}
	return sent, nil
}

// UpdateSurface edits, or for UpdateReplace deletes, the card message.
func (a *Adapter) UpdateSurface(ctx context.Context, s chat.Surface, u chat.SurfaceUpdate) error {
	if err := a.ready(); err != nil {
		return err
	}

	if u.Kind == chat.UpdateReplace {
		err := a.retryOnRateLimit(ctx, func() error {
			return a.sess.ChannelMessageDelete(s.ChannelID, s.MessageID, discordgo.WithContext(ctx))
		})
		if err != nil {
			return fmt.Errorf("discord: delete surface: %w", err)
		}
		if u.Text == "" {
			return nil
		}
		if _, err := a.send(ctx, s.ChannelID, &discordgo.MessageSend{Content: u.Text}); err != nil {
			return fmt.Errorf("discord: replace surface: %w", err)
		}
		return nil
	}

	content, embeds, rows := a.render(u)
	edit := discordgo.NewMessageEdit(s.ChannelID, s.MessageID).SetContent(content).SetEmbeds(embeds)
	edit.Components = &rows
	err := a.retryOnRateLimit(ctx, func() error {
		_, editErr := a.sess.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: update surface: %w", err)
	}
	return nil
}

// PresentCard answers the slash command interaction with the card, or for a
// direct message replies to it in the DM channel.
func (a *Adapter) PresentCard(ctx context.Context, ev chat.LinkSubmitted, card chat.Card) (chat.Surface, error) {
	if err := a.ready(); err != nil {
		return chat.Surface{}, err
	}
	content, _, rows := a.render(chat.SurfaceUpdate{Kind: chat.UpdateOptions, RequestID: card.RequestID, Link: card.Link})

	if it, ok := a.takeInteraction(ev.Conv.Token); ok {
		err := a.sess.InteractionRespond(it, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: content, Components: rows},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return chat.Surface{}, fmt.Errorf("discord: respond with card: %w", err)
		}
		msg, err := a.sess.InteractionResponse(it, discordgo.WithContext(ctx))
		if err != nil {
			return chat.Surface{}, fmt.Errorf("discord: fetch card: %w", err)
		}
		return chat.Surface{ChannelID: msg.ChannelID, MessageID: msg.ID, Private: ev.Conv.Private}, nil
	}

	data := &discordgo.MessageSend{Content: content, Components: rows}
	if ev.Conv.MessageID != "" {
		data.Reference = &discordgo.MessageReference{MessageID: ev.Conv.MessageID, ChannelID: ev.Conv.ChannelID}
	}
	msg, err := a.send(ctx, ev.Conv.ChannelID, data)
	if err != nil {
		return chat.Surface{}, fmt.Errorf("discord: post card: %w", err)
	}
	return chat.Surface{ChannelID: ev.Conv.ChannelID, MessageID: msg.ID, Private: ev.Conv.Private}, nil
}

// Reply answers an interaction ephemerally, or posts to the channel for
// plain messages.
func (a *Adapter) Reply(ctx context.Context, conv chat.Conversation, text string) error {
	if err := a.ready(); err != nil {
		return err
	}
	if it, ok := a.takeInteraction(conv.Token); ok {
		err := a.sess.InteractionRespond(it, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord: reply: %w", err)
		}
		return nil
	}
	if _, err := a.send(ctx, conv.ChannelID, &discordgo.MessageSend{Content: text}); err != nil {
		return fmt.Errorf("discord: reply: %w", err)
	}
	return nil
}

// Acknowledge follows up on a click that was deferred when it arrived.
// Discord has no alert dialog, so both forms are ephemeral messages.
func (a *Adapter) Acknowledge(ctx context.Context, ev chat.ActionClicked, text string, alert bool) error {
	it, ok := a.takeInteraction(ev.Conv.Token)
	if !ok || text == "" {
		return nil
	}
	_, err := a.sess.FollowupMessageCreate(it, false, &discordgo.WebhookParams{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: acknowledge: %w", err)
	}
	return nil
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

func (a *Adapter) handleReady(r *discordgo.Ready) {
	a.mu.Lock()
	a.botUserID = r.User.ID
	if r.Application != nil {
		a.appID = r.Application.ID
	}
	appID := a.appID
	a.mu.Unlock()
	a.log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("connected")

	if appID == "" {
		a.log.Warn().Msg("no application id in ready payload, slash command not registered")
		return
	}
	_, err := a.sess.ApplicationCommandCreate(appID, a.guildID, &discordgo.ApplicationCommand{
		Name:        a.command,
		Description: "Download media from a link",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "link",
			Description: "Link to the post",
			Required:    true,
		}},
	})
	if err != nil {
		a.log.Error().Err(err).Str("command", a.command).Msg("register slash command")
	}
}

// handleMessage converts a direct message to a submission or start command.
// Guild messages are ignored; guild submissions use the slash command.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return
	}
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID {
		return
	}

	conv := chat.Conversation{Platform: "discord", ChannelID: m.ChannelID, MessageID: m.ID, Private: true}
	user := chat.UserID(m.Author.ID)

	a.mu.Lock()
	a.dmChannels[user] = m.ChannelID
	a.mu.Unlock()

	if param, ok := parseStart(m.Content); ok {
		a.emit(chat.StartReceived{User: user, Param: param, Conv: conv})
		return
	}
	a.emit(chat.LinkSubmitted{User: user, Text: m.Content, Conv: conv})
}

func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	user := interactionUser(i.Interaction)
	if user == nil {
		return
	}
	private := i.GuildID == ""
	conv := chat.Conversation{Platform: "discord", ChannelID: i.ChannelID, Token: i.Token, Private: private}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		if data.Name != a.command {
			return
		}
		var text string
		for _, opt := range data.Options {
			if opt.Name == "link" {
				text = opt.StringValue()
			}
		}
		a.holdInteraction(i.Interaction)
		a.emit(chat.LinkSubmitted{
			User:   chat.UserID(user.ID),
			Text:   text,
			Inline: !private,
			Conv:   conv,
		})

	case discordgo.InteractionMessageComponent:
		id, mode, err := chat.ParseActionID(i.MessageComponentData().CustomID)
		if err != nil {
			a.log.Debug().Err(err).Msg("ignoring component")
			return
		}
		// Discord wants an answer within three seconds; dispatch takes longer.
		if err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		}); err != nil {
			a.log.Warn().Err(err).Str("id", id).Msg("defer click")
		}
		a.holdInteraction(i.Interaction)
		surface := chat.Surface{ChannelID: i.ChannelID, Private: private}
		if i.Message != nil {
			surface.MessageID = i.Message.ID
		}
		a.emit(chat.ActionClicked{
			User:      chat.UserID(user.ID),
			RequestID: id,
			Mode:      mode,
			Surface:   surface,
			Conv:      conv,
		})
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

func (a *Adapter) holdInteraction(i *discordgo.Interaction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for token, h := range a.interactions {
		if now.Sub(h.at) > interactionTTL {
			delete(a.interactions, token)
		}
	}
	a.interactions[i.Token] = heldInteraction{i: i, at: now}
}

func (a *Adapter) takeInteraction(token string) (*discordgo.Interaction, bool) {
	if token == "" {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.interactions[token]
	if ok {
		delete(a.interactions, token)
	}
	return h.i, ok
}

// privateChannel returns the DM channel for user, creating it on first use.
func (a *Adapter) privateChannel(ctx context.Context, user chat.UserID) (string, error) {
	a.mu.Lock()
	id, ok := a.dmChannels[user]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.UserChannelCreate(string(user), discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open dm with %s: %w: %v", user, chat.ErrUnreachable, err)
	}
	a.mu.Lock()
	a.dmChannels[user] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

func (a *Adapter) send(ctx context.Context, channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	var msg *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		msg, sendErr = a.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}

// classify maps Discord's refusal to open a DM onto chat.ErrUnreachable.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeCannotSendMessagesToThisUser, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %v", chat.ErrUnreachable, err)
		}
	}
	return err
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("rate limited, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// parseStart recognises "start", "/start" and "!start" with an optional
// parameter.
func parseStart(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	switch strings.ToLower(fields[0]) {
	case "start", "/start", "!start":
	default:
		return "", false
	}
	if len(fields) > 1 {
		return fields[1], true
	}
	return "", true
}
