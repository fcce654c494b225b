package mq

import "time"

// MessageIngestedPayload is published on "message.ingested" for every newly
// persisted message.
type MessageIngestedPayload struct {
	MessageID   int64     `json:"message_id"`
	ChannelID   int64     `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
}

// MessageAlertPayload is published on "message.alert" when an ingested
// message body matches a configured alert keyword.
type MessageAlertPayload struct {
	MessageID   int64  `json:"message_id"`
	ChannelID   int64  `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	Keyword     string `json:"keyword"`
	Excerpt     string `json:"excerpt"`
}

// ReplyDeadLetterPayload is published to the DLQ on "reply.dead_letter"
// when a reply exhausts its retry budget.
type ReplyDeadLetterPayload struct {
	MessageID   int64  `json:"message_id"`
	ChannelID   int64  `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	Retries     int64  `json:"retries"`
	Error       string `json:"error"`
}
