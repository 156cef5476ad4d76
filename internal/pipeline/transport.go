package pipeline

import "context"

// MediaKind distinguishes the two attachment shapes the pipeline
// understands. Anything else the transport might deliver (stickers,
// audio notes, video) is out of scope and dropped before Input is
// built.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaFile  MediaKind = "file"
)

// Attachment is one part of a grouped inbound message.
type Attachment struct {
	Kind     MediaKind
	Filename string
	MimeType string
	Data     []byte
}

// Input is one logical inbound turn: a single piece of text and/or a
// media group, already aggregated by the transport layer from however
// many physical updates it arrived as.
type Input struct {
	UserID int64
	ChatID int64

	IsGroup      bool
	RepliedToBot bool
	MentionsBot  bool

	Text        string
	Attachments []Attachment
}

// MessageHandle identifies a sent message the pipeline may later edit
// or delete (the placeholder it streams into).
type MessageHandle struct {
	ChatID    int64
	MessageID int
}

// Sender is the transport contract the chat pipeline depends on. The
// long-polling/webhook loop that produces Input values and implements
// Sender lives in internal/telegram; this package only consumes the
// interface so it can be exercised with a fake in tests.
type Sender interface {
	// SendPlaceholder posts the initial "..." message the pipeline
	// then edits in place as the stream progresses.
	SendPlaceholder(ctx context.Context, chatID int64, text string) (MessageHandle, error)

	// EditMessage rewrites handle's text. html selects Telegram's HTML
	// parse mode; a non-nil error signals a delivery failure the
	// caller should treat as "retry as plain text" when html is true.
	EditMessage(ctx context.Context, handle MessageHandle, text string, html bool) error

	// DeleteMessage removes handle, used before sending a multi-part
	// reply that no longer fits the placeholder.
	DeleteMessage(ctx context.Context, handle MessageHandle) error

	// SendText posts a new, standalone message.
	SendText(ctx context.Context, chatID int64, text string, html bool) error

	// SendVoice posts a synthesized voice clip.
	SendVoice(ctx context.Context, chatID int64, audio []byte, format string) error
}
