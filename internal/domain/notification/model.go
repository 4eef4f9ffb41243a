package notification

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusRead    = "read"
)

var channels = []interface{}{ChannelInApp, ChannelEmail, ChannelSMS}

// Notification maps to the notification table. RecipientID is a user id for
// in_app rows, an address for email rows and a phone number for sms rows.
type Notification struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	RecipientID string            `db:"recipient_id" json:"recipient_id"`
	Channel     string            `db:"channel" json:"channel"`
	Category    string            `db:"category" json:"category"`
	Title       string            `db:"title" json:"title"`
	Body        string            `db:"body" json:"body"`
	Data        map[string]string `db:"data" json:"data,omitempty"`
	Status      string            `db:"status" json:"status"`
	Error       *string           `db:"error" json:"error,omitempty"`
	ReadAt      *time.Time        `db:"read_at" json:"read_at,omitempty"`
	SentAt      *time.Time        `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// FanOutRequest sends one notification to every recipient. Either TemplateID
// or Body must be set; Data fills {{key}} placeholders in both cases.
type FanOutRequest struct {
	Recipients []string          `json:"recipients"`
	Channel    string            `json:"channel"`
	Category   string            `json:"category"`
	TemplateID string            `json:"template_id,omitempty"`
	Title      string            `json:"title,omitempty"`
	Body       string            `json:"body,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

func (r FanOutRequest) Validate() error {
	recipient := []validation.Rule{validation.Required, validation.Length(1, 255)}
	switch r.Channel {
	case ChannelEmail:
		recipient = append(recipient, is.EmailFormat)
	case ChannelSMS:
		recipient = append(recipient, is.E164)
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Recipients, validation.Required, validation.Length(1, 500), validation.Each(recipient...)),
		validation.Field(&r.Channel, validation.Required, validation.In(channels...)),
		validation.Field(&r.Category, validation.Required, validation.Length(1, 50)),
		validation.Field(&r.TemplateID, validation.Length(0, 100)),
		validation.Field(&r.Title, validation.Length(0, 200)),
		validation.Field(&r.Body, validation.When(r.TemplateID == "", validation.Required), validation.Length(0, 4000)),
	)
}

// FanOutResult lists the rows written by a fan-out.
type FanOutResult struct {
	Notifications []*Notification `json:"notifications"`
	Sent          int             `json:"sent"`
	Failed        int             `json:"failed"`
}
