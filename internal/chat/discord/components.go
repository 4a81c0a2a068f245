package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/media"
)

const (
	cardText        = "Choose a download mode, or wait and it will download automatically."
	unreachableText = "I can't message you privately. Allow direct messages from this server, " +
		"or send me `start %s` in a private chat, then press a mode again."
)

// render builds the card content for a surface update. Embeds is never nil
// so that an edit clears previous embeds.
func (a *Adapter) render(u chat.SurfaceUpdate) (string, []*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	embeds := []*discordgo.MessageEmbed{}
	switch u.Kind {
	case chat.UpdateProcessing:
		return "", embeds, row(
			discordgo.Button{Label: "⏳ Processing", Style: discordgo.SecondaryButton, CustomID: "processing", Disabled: true},
			linkButton(u.Link),
		)

	case chat.UpdateError:
		return u.Text, embeds, row(linkButton(u.Link))

	case chat.UpdateUnreachable:
		buttons := modeButtons(u.RequestID)
		buttons = append(buttons, linkButton(u.Link), a.openPrivateButton())
		return fmt.Sprintf(unreachableText, u.RequestID), embeds, row(buttons...)

	case chat.UpdateMedia:
		content := u.Text
		if u.Media != nil {
			if isImage(u.Media.Kind) {
				embeds = append(embeds, &discordgo.MessageEmbed{Image: &discordgo.MessageEmbedImage{URL: u.Media.URL}})
			} else {
				content = strings.TrimSpace(content + "\n" + u.Media.URL)
			}
		}
		if u.OpenPrivate {
			return content, embeds, row(a.openPrivateButton())
		}
		return content, embeds, row(linkButton(u.Link))

	default:
		buttons := modeButtons(u.RequestID)
		buttons = append(buttons, linkButton(u.Link))
		return cardText, embeds, row(buttons...)
	}
}

func modeButtons(requestID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.Button{Label: "auto", Style: discordgo.PrimaryButton, CustomID: chat.ActionID(requestID, chat.ModeAuto)},
		discordgo.Button{Label: "audio", Style: discordgo.SecondaryButton, CustomID: chat.ActionID(requestID, chat.ModeAudio)},
	}
}

func linkButton(link string) discordgo.MessageComponent {
	return discordgo.Button{Label: "link", Style: discordgo.LinkButton, URL: link}
}

func (a *Adapter) openPrivateButton() discordgo.MessageComponent {
	return discordgo.Button{
		Label: "Open private chat",
		Style: discordgo.LinkButton,
		URL:   "https://discord.com/users/" + a.BotUserID(),
	}
}

func row(components ...discordgo.MessageComponent) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: components}}
}

// mediaMessage builds one private message for up to ten items. A lone item
// carries the link control from the presentation.
func mediaMessage(items []media.Descriptor, p chat.Presentation, single bool) *discordgo.MessageSend {
	data := &discordgo.MessageSend{}
	var links []string
	for _, item := range items {
		if isImage(item.Kind) {
			data.Embeds = append(data.Embeds, &discordgo.MessageEmbed{
				Image: &discordgo.MessageEmbedImage{URL: item.URL},
			})
			continue
		}
		links = append(links, item.URL)
	}
	data.Content = strings.Join(links, "\n")
	if p.Silent {
		data.Flags = discordgo.MessageFlagsSuppressNotifications
	}
	if single && p.Link != "" {
		data.Components = row(linkButton(p.Link))
	}
	return data
}

// assetRef returns the Discord-proxied URL of the first image in msg.
func assetRef(msg *discordgo.Message) string {
	if msg == nil {
		return ""
	}
	for _, e := range msg.Embeds {
		if e.Image != nil && e.Image.ProxyURL != "" {
			return e.Image.ProxyURL
		}
	}
	for _, att := range msg.Attachments {
		if att.ProxyURL != "" {
			return att.ProxyURL
		}
	}
	return ""
}

func isImage(kind media.Kind) bool {
	return kind == media.KindPhoto || kind == media.KindGIF
}
