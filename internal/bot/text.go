package bot

import "regexp"

// linkRe matches the first http(s) link with a non-empty path.
var linkRe = regexp.MustCompile(`https?://[^/\s]+/\S+`)

// ExtractLink returns the first link in text, or "" when there is none.
func ExtractLink(text string) string {
	return linkRe.FindString(text)
}

const (
	helpText = "Please send a link to download media. " +
		"You can also use the slash command in any channel followed by a link."

	welcomeText = "👋 Welcome!\n\n" +
		"You can use this bot to download media from supported sites.\n\n" +
		"• Send a link here to download media\n" +
		"• Use the slash command in any channel to share media inline"

	throttledText = "Slow down a little, try again in a few seconds."

	readmittedText = "Thanks! Press a mode on the original message, or wait and it will download automatically."

	grantMissingText = "That request has expired, send the link again."
)
