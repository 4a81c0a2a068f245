package slack

import (
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/grabyard/internal/chat"
	"github.com/zulandar/grabyard/internal/media"
)

const (
	cardText        = "Choose a download mode, or wait and it will download automatically."
	processingText  = ":hourglass_flowing_sand: Processing..."
	unreachableText = "I can't message you privately. Open a chat with me and send `start %s`, then press a mode again."
	linkActionID    = "link"
	openActionID    = "open_private"
)

// render builds the fallback text and blocks for a surface update.
func (a *Adapter) render(u chat.SurfaceUpdate) (string, []slackapi.Block) {
	switch u.Kind {
	case chat.UpdateProcessing:
		return processingText, []slackapi.Block{
			contextBlock(processingText),
			slackapi.NewActionBlock("controls", linkButton(u.Link)),
		}

	case chat.UpdateError:
		return u.Text, []slackapi.Block{
			textSection(u.Text),
			slackapi.NewActionBlock("controls", linkButton(u.Link)),
		}

	case chat.UpdateUnreachable:
		text := fmt.Sprintf(unreachableText, u.RequestID)
		elements := append(modeButtons(u.RequestID), linkButton(u.Link), a.openPrivateButton())
		return text, []slackapi.Block{
			textSection(text),
			slackapi.NewActionBlock("controls", elements...),
		}

	case chat.UpdateMedia:
		var blocks []slackapi.Block
		fallback := u.Text
		if u.Text != "" {
			blocks = append(blocks, textSection(u.Text))
		}
		if u.Media != nil {
			blocks = append(blocks, itemBlock(*u.Media))
			if fallback == "" {
				fallback = u.Media.URL
			}
		}
		control := linkButton(u.Link)
		if u.OpenPrivate {
			control = a.openPrivateButton()
		}
		blocks = append(blocks, slackapi.NewActionBlock("controls", control))
		return fallback, blocks

	default:
		elements := append(modeButtons(u.RequestID), linkButton(u.Link))
		return cardText, []slackapi.Block{
			textSection(cardText),
			slackapi.NewActionBlock("controls", elements...),
		}
	}
}

func modeButtons(requestID string) []slackapi.BlockElement {
	auto := slackapi.NewButtonBlockElement(chat.ActionID(requestID, chat.ModeAuto), chat.ModeAuto, plain("auto")).
		WithStyle(slackapi.StylePrimary)
	audio := slackapi.NewButtonBlockElement(chat.ActionID(requestID, chat.ModeAudio), chat.ModeAudio, plain("audio"))
	return []slackapi.BlockElement{auto, audio}
}

func linkButton(link string) slackapi.BlockElement {
	b := slackapi.NewButtonBlockElement(linkActionID, "", plain("link"))
	b.URL = link
	return b
}

func (a *Adapter) openPrivateButton() slackapi.BlockElement {
	b := slackapi.NewButtonBlockElement(openActionID, "", plain("Open private chat"))
	b.URL = "https://slack.com/app_redirect?channel=" + a.BotUserID()
	return b
}

// mediaBlocks builds one private message for up to ten items. A lone item
// carries the link control from the presentation.
func mediaBlocks(items []media.Descriptor, p chat.Presentation, single bool) (string, []slackapi.Block) {
	var blocks []slackapi.Block
	var urls []string
	for _, item := range items {
		blocks = append(blocks, itemBlock(item))
		urls = append(urls, item.URL)
	}
	if single && p.Link != "" {
		blocks = append(blocks, slackapi.NewActionBlock("controls", linkButton(p.Link)))
	}
	return strings.Join(urls, "\n"), blocks
}

// itemBlock shows photos and GIFs inline and links everything else.
func itemBlock(item media.Descriptor) slackapi.Block {
	if item.Kind == media.KindPhoto || item.Kind == media.KindGIF {
		return slackapi.NewImageBlock(item.URL, altText(item), "", nil)
	}
	label := item.Filename
	if label == "" {
		label = string(item.Kind)
	}
	return textSection(fmt.Sprintf("<%s|%s>", item.URL, label))
}

func altText(item media.Descriptor) string {
	if item.Filename != "" {
		return item.Filename
	}
	return string(item.Kind)
}

func textSection(text string) slackapi.Block {
	return slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil)
}

func contextBlock(text string) slackapi.Block {
	return slackapi.NewContextBlock("", slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false))
}

func plain(text string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.PlainTextType, text, false, false)
}
