package chat

// Event is the closed set of inbound events an Adapter produces.
type Event interface {
	isEvent()
}

// Conversation identifies where an inbound event came from so that replies
// land in the same place. Token carries the platform's reply handle
// (interaction token, response URL) when there is one.
type Conversation struct {
	Platform  string
	ChannelID string
	MessageID string
	Token     string
	Private   bool
}

// LinkSubmitted is a user sending text that may contain a link, either via
// the slash command in a shared channel (Inline) or in a private channel.
type LinkSubmitted struct {
	User   UserID
	Text   string
	Inline bool
	Conv   Conversation
}

// ActionClicked is a user pressing a mode control on a surface.
type ActionClicked struct {
	User      UserID
	RequestID string
	Mode      string
	Surface   Surface
	Conv      Conversation
}

// StartReceived is the start command in a private channel. Param is the
// optional argument, a request id when replaying a deep link.
type StartReceived struct {
	User  UserID
	Param string
	Conv  Conversation
}

// SurfaceShown reports that a card became interactive after PresentCard
// returned, for platforms that only learn the surface later.
type SurfaceShown struct {
	RequestID string
	Surface   Surface
}

func (LinkSubmitted) isEvent() {}
func (ActionClicked) isEvent() {}
func (StartReceived) isEvent() {}
func (SurfaceShown) isEvent()  {}
