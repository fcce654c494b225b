package model

import "time"

// Category is the derived kind of a channel, denormalized onto every
// message at ingest time.
type Category string

const (
	CategoryWhatsApp      Category = "whatsapp"
	CategoryLiveChat      Category = "livechat"
	CategoryDirectMessage Category = "direct_message"
	CategoryTeamChannel   Category = "team_channel"
	CategoryUnknown       Category = "unknown"
)

// Channel is a remote conversation thread. Channels are never created
// locally, only mirrored.
type Channel struct {
	ID          int64
	Name        string
	ChannelType string // raw backend tag: livechat, chat, channel, ...
	Category    Category
}

// Author is the message sender when a backend account exists.
type Author struct {
	ID   int64
	Name string
}

type Message struct {
	MessageID     int64
	ChannelID     int64
	ChannelName   string
	Category      Category
	Body          string // markup-bearing text as delivered by the backend
	Author        *Author
	EmailFrom     string // free-text sender address when Author is nil
	Date          time.Time
	AttachmentIDs []int64
	CreatedAt     time.Time
	Processed     bool
	ProcessedAt   *time.Time
}

// AuthorName returns the display name of the sender, falling back to the
// free-text address.
func (m *Message) AuthorName() string {
	if m.Author != nil {
		return m.Author.Name
	}
	return m.EmailFrom
}

type Stats struct {
	TotalMessages int64
	Unprocessed   int64
	Last24h       int64
	ByCategory    map[Category]int64
}

// SyncReport summarizes one backfill run for the operator.
type SyncReport struct {
	Fetched    int
	Inserted   int
	Duplicates int
	Skipped    int
	ByCategory map[Category]int
	MaxID      int64
}
