package odoo

import (
	"encoding/json"
	"fmt"
	"time"
)

// Odoo serializes unset fields as the JSON literal false instead of null,
// so every optional field needs a tolerant decoder.

const dateLayout = "2006-01-02 15:04:05"

// Time decodes Odoo's "YYYY-MM-DD HH:MM:SS" timestamps (UTC).
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "false" || string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("odoo date %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// FormatTime renders a timestamp the way Odoo domain filters expect it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// AuthorRef is the many2one author reference, delivered as [id, name]
// or false when the sender has no backend account.
type AuthorRef struct {
	ID    int64
	Name  string
	Valid bool
}

func (a *AuthorRef) UnmarshalJSON(b []byte) error {
	if string(b) == "false" || string(b) == "null" {
		*a = AuthorRef{}
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) < 2 {
		*a = AuthorRef{}
		return nil
	}
	if err := json.Unmarshal(pair[0], &a.ID); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[1], &a.Name); err != nil {
		return err
	}
	a.Valid = true
	return nil
}

// String decodes a char field that may be false.
type String string

func (s *String) UnmarshalJSON(b []byte) error {
	if string(b) == "false" || string(b) == "null" {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = String(v)
	return nil
}

// ChannelRecord is a discuss.channel row.
type ChannelRecord struct {
	ID          int64  `json:"id"`
	Name        String `json:"name"`
	ChannelType String `json:"channel_type"`
}

// MessageRecord is a mail.message row.
type MessageRecord struct {
	ID            int64     `json:"id"`
	Body          String    `json:"body"`
	Date          Time      `json:"date"`
	AuthorID      AuthorRef `json:"author_id"`
	EmailFrom     String    `json:"email_from"`
	ResID         int64     `json:"res_id"`
	AttachmentIDs []int64   `json:"attachment_ids"`
}
