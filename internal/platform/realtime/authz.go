package realtime

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
)

// ConsultationAccess reports whether the caller on ctx takes part in the
// consultation. ctx carries the caller's identity and tenant id but no
// database connection.
type ConsultationAccess func(ctx context.Context, consultationID string) (bool, error)

// TopicAuthorizer decides which topics a caller may receive:
//
//	user/<id>          only the user itself
//	queue/<id>         staff roles
//	consultation/<id>  admins and the consultation's participants
//
// Anything else is refused.
type TopicAuthorizer struct {
	consultations ConsultationAccess
	log           zerolog.Logger
}

func NewTopicAuthorizer(consultations ConsultationAccess, logger zerolog.Logger) *TopicAuthorizer {
	return &TopicAuthorizer{consultations: consultations, log: logger}
}

func (a *TopicAuthorizer) Allow(ctx context.Context, topic string) bool {
	kind, id, ok := strings.Cut(topic, "/")
	if !ok || id == "" {
		return false
	}
	switch kind {
	case "user":
		uid := auth.UserIDFromContext(ctx)
		return uid != "" && uid == id
	case "queue":
		return auth.HasRole(ctx, auth.Staff...)
	case "consultation":
		if auth.HasRole(ctx, auth.RoleAdmin) {
			return true
		}
		if a.consultations == nil {
			return false
		}
		allowed, err := a.consultations(ctx, id)
		if err != nil {
			a.log.Warn().Err(err).Str("topic", topic).Msg("consultation access check failed")
			return false
		}
		return allowed
	}
	return false
}

// subscriberContext detaches the caller's identity and tenant from the
// upgrade request, whose context ends once the socket is hijacked.
func subscriberContext(req context.Context) context.Context {
	ctx := auth.WithIdentity(context.Background(), auth.UserIDFromContext(req), auth.RolesFromContext(req)...)
	if tenant := db.TenantFromContext(req); tenant != "" {
		ctx = context.WithValue(ctx, db.TenantIDKey, tenant)
	}
	return ctx
}
