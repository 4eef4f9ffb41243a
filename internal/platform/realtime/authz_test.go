package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
)

func TestTopicAuthorizer_Allow(t *testing.T) {
	authz := NewTopicAuthorizer(participants(map[string]string{"c1": "patient-a"}), zerolog.Nop())

	patientA := auth.WithIdentity(context.Background(), "patient-a", auth.RolePatient)
	nurse := auth.WithIdentity(context.Background(), "nurse-1", auth.RoleNurse)
	admin := auth.WithIdentity(context.Background(), "root", auth.RoleAdmin)

	tests := []struct {
		name  string
		ctx   context.Context
		topic string
		want  bool
	}{
		{"own user topic", patientA, "user/patient-a", true},
		{"other user topic", patientA, "user/patient-b", false},
		{"admin other user topic", admin, "user/patient-a", false},
		{"patient queue", patientA, "queue/q1", false},
		{"nurse queue", nurse, "queue/q1", true},
		{"admin queue", admin, "queue/q1", true},
		{"participant consultation", patientA, "consultation/c1", true},
		{"non participant consultation", nurse, "consultation/c1", false},
		{"admin consultation", admin, "consultation/anything", true},
		{"unknown kind", admin, "billing/1", false},
		{"empty id", patientA, "user/", false},
		{"no separator", patientA, "user", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := authz.Allow(tt.ctx, tt.topic); got != tt.want {
				t.Errorf("Allow(%q) = %v, want %v", tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicAuthorizer_LookupError(t *testing.T) {
	failing := func(context.Context, string) (bool, error) { return true, errors.New("db down") }
	authz := NewTopicAuthorizer(failing, zerolog.Nop())

	ctx := auth.WithIdentity(context.Background(), "dr-1", auth.RolePhysician)
	if authz.Allow(ctx, "consultation/c1") {
		t.Error("expected lookup failure to refuse the topic")
	}
	if NewTopicAuthorizer(nil, zerolog.Nop()).Allow(ctx, "consultation/c1") {
		t.Error("expected no lookup to refuse consultation topics")
	}
}

func TestSubscriberContext(t *testing.T) {
	req, cancel := context.WithCancel(auth.WithIdentity(context.Background(), "dr-1", auth.RolePhysician))
	req = context.WithValue(req, db.TenantIDKey, "acme")
	cancel()

	ctx := subscriberContext(req)
	if ctx.Err() != nil {
		t.Error("expected subscriber context to outlive the request")
	}
	if auth.UserIDFromContext(ctx) != "dr-1" || !auth.HasRole(ctx, auth.RolePhysician) {
		t.Error("expected identity to be carried over")
	}
	if db.TenantFromContext(ctx) != "acme" {
		t.Errorf("expected tenant acme, got %q", db.TenantFromContext(ctx))
	}
}
