package notification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/mailer"
	"github.com/clinic/clinic/internal/platform/realtime"
)

// SMSSender delivers text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogSMS only logs; it is the sender until an SMS provider is configured.
type LogSMS struct{}

func (LogSMS) SendSMS(ctx context.Context, to, body string) error {
	zerolog.Ctx(ctx).Info().Str("to", to).Int("length", len(body)).Msg("sms not sent, no provider configured")
	return nil
}

// Recorder counts delivery outcomes. *metrics.Metrics implements it.
type Recorder interface {
	Notification(channel, status string)
}

type nopRecorder struct{}

func (nopRecorder) Notification(string, string) {}

type Service struct {
	repo      Repository
	templates *TemplateEngine
	mail      mailer.Sender
	sms       SMSSender
	events    realtime.Publisher
	recorder  Recorder
	now       func() time.Time
}

func NewService(repo Repository, templates *TemplateEngine, mail mailer.Sender, events realtime.Publisher) *Service {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	if events == nil {
		events = realtime.NopPublisher{}
	}
	return &Service{
		repo:      repo,
		templates: templates,
		mail:      mail,
		sms:       LogSMS{},
		events:    events,
		recorder:  nopRecorder{},
		now:       time.Now,
	}
}

func (s *Service) SetSMSSender(sms SMSSender) { s.sms = sms }
func (s *Service) SetRecorder(r Recorder)     { s.recorder = r }

func (s *Service) render(req FanOutRequest) (title, body string, err error) {
	if req.TemplateID == "" {
		return Substitute(req.Title, req.Data), Substitute(req.Body, req.Data), nil
	}
	title, body, err = s.templates.Render(req.TemplateID, req.Data)
	if err != nil {
		return "", "", err
	}
	if req.Title != "" {
		title = Substitute(req.Title, req.Data)
	}
	return title, body, nil
}

// FanOut writes one row per distinct recipient and delivers it on the
// request's channel. Delivery failures are recorded on the row and do not
// fail the call.
func (s *Service) FanOut(ctx context.Context, req FanOutRequest) (*FanOutResult, error) {
	req.Channel = strings.ToLower(strings.TrimSpace(req.Channel))
	req.Recipients = dedupe(req.Recipients)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	title, body, err := s.render(req)
	if err != nil {
		return nil, err
	}

	res := &FanOutResult{Notifications: make([]*Notification, 0, len(req.Recipients))}
	for _, to := range req.Recipients {
		n := &Notification{
			RecipientID: to,
			Channel:     req.Channel,
			Category:    req.Category,
			Title:       title,
			Body:        body,
			Data:        req.Data,
			Status:      StatusPending,
		}
		if err := s.deliver(ctx, n); err != nil {
			return res, err
		}
		switch n.Status {
		case StatusSent:
			res.Sent++
		case StatusFailed:
			res.Failed++
		}
		res.Notifications = append(res.Notifications, n)
	}
	return res, nil
}

// dedupe trims and drops repeated recipients. Blank entries are kept so
// validation reports them.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" && seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// deliver stores n and sends it. Only a failed insert is returned.
func (s *Service) deliver(ctx context.Context, n *Notification) error {
	if n.Channel == ChannelInApp {
		now := s.now()
		n.Status = StatusSent
		n.SentAt = &now
		if err := s.repo.Create(ctx, n); err != nil {
			return err
		}
		s.recorder.Notification(n.Channel, n.Status)
		evt := realtime.NewEvent(realtime.UserTopic(n.RecipientID), "notification.created", "notification", n.ID.String(), n)
		if err := s.events.Publish(ctx, evt); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("notification_id", n.ID.String()).Msg("publish notification failed")
		}
		return nil
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	var sendErr error
	switch n.Channel {
	case ChannelEmail:
		if s.mail == nil {
			sendErr = mailer.ErrDisabled
		} else {
			sendErr = s.mail.Send(ctx, mailer.Message{To: []string{n.RecipientID}, Subject: n.Title, TextBody: n.Body})
		}
	case ChannelSMS:
		sendErr = s.sms.SendSMS(ctx, n.RecipientID, n.Body)
	}

	if sendErr != nil {
		msg := sendErr.Error()
		n.Status, n.Error = StatusFailed, &msg
		zerolog.Ctx(ctx).Warn().Err(sendErr).Str("notification_id", n.ID.String()).Str("channel", n.Channel).
			Msg("notification delivery failed")
	} else {
		now := s.now()
		n.Status, n.SentAt = StatusSent, &now
	}
	s.recorder.Notification(n.Channel, n.Status)
	if err := s.repo.SetDelivery(ctx, n.ID, n.Status, n.SentAt, n.Error); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("notification_id", n.ID.String()).Msg("recording delivery failed")
	}
	return nil
}

// Notify sends a single in_app notification rendered from templateID.
func (s *Service) Notify(ctx context.Context, userID, category, templateID string, data map[string]string) (*Notification, error) {
	res, err := s.FanOut(ctx, FanOutRequest{
		Recipients: []string{userID},
		Channel:    ChannelInApp,
		Category:   category,
		TemplateID: templateID,
		Data:       data,
	})
	if err != nil {
		return nil, err
	}
	return res.Notifications[0], nil
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByRecipient(ctx, userID, unreadOnly, limit, offset)
}

// MarkRead marks a notification of userID read. Rows of other users are
// reported as not found.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, userID string) (*Notification, error) {
	n, err := s.repo.MarkRead(ctx, id, userID, s.now())
	if err != nil {
		return nil, err
	}
	s.publishUnread(ctx, userID)
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publishUnread(ctx, userID)
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *Service) publishUnread(ctx context.Context, userID string) {
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("unread count failed")
		return
	}
	evt := realtime.NewEvent(realtime.UserTopic(userID), "notification.unread", "notification", "",
		map[string]int{"unread": count})
	if err := s.events.Publish(ctx, evt); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("publish unread count failed")
	}
}

func (s *Service) Templates() *TemplateEngine { return s.templates }
