package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hr-incidents-api/internal/models"
	"github.com/noah-isme/hr-incidents-api/pkg/config"
	"github.com/noah-isme/hr-incidents-api/pkg/jobs"
)

type senderStub struct {
	sent chan sentMail
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

func newSenderStub() *senderStub {
	return &senderStub{sent: make(chan sentMail, 4)}
}

func (s *senderStub) Send(_ context.Context, to []string, subject, body string) error {
	s.sent <- sentMail{to: to, subject: subject, body: body}
	return nil
}

type directoryStub struct {
	byRole map[models.UserRole][]string
}

func (d *directoryStub) EmailsByRole(_ context.Context, role models.UserRole) ([]string, error) {
	return d.byRole[role], nil
}

func testNotificationService(sender EmailSender) *NotificationService {
	directory := &directoryStub{byRole: map[models.UserRole][]string{
		models.RoleManager:  {"gerente@example.com"},
		models.RoleReviewer: {"ri1@example.com", "ri2@example.com"},
	}}
	return NewNotificationService(sender, directory, config.NotificationsConfig{
		Enabled: true,
		Workers: 1,
		AppURL:  "http://localhost:3000/dashboard/home",
	}, nil)
}

func TestRecipientRoleFor(t *testing.T) {
	role, ok := recipientRoleFor(models.StatePendingManager)
	require.True(t, ok)
	require.Equal(t, models.RoleManager, role)

	role, ok = recipientRoleFor(models.StatePendingReviewer)
	require.True(t, ok)
	require.Equal(t, models.RoleReviewer, role)

	for _, state := range []models.IncidentState{models.StateApproved, models.StateRejected, models.StateNotApplicable} {
		_, ok = recipientRoleFor(state)
		require.False(t, ok, "%s", state)
	}
}

func TestNotificationServiceDeliversToStageOwners(t *testing.T) {
	sender := newSenderStub()
	svc := testNotificationService(sender)

	amount := 1250.5
	incident := models.Incident{
		ID: "inc-1", WorkerID: "w-100", WorkerName: "Ana Torres",
		SubtypeName: "Overtime", ConceptCode: "1500",
		RegistrantName: "Luis Vega",
		State:          models.StatePendingReviewer,
		Amount:         &amount,
		EffectiveFrom:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EffectiveTo:    time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
	}

	err := svc.handle(context.Background(), jobs.Job[notificationPayload]{ID: "job-1", Payload: notificationPayload{Incident: incident}})
	require.NoError(t, err)

	mail := <-sender.sent
	require.Equal(t, []string{"ri1@example.com", "ri2@example.com"}, mail.to)
	require.Contains(t, mail.subject, "Overtime")
	require.Contains(t, mail.body, "Ana Torres")
	require.Contains(t, mail.body, "1250.50")
	require.Contains(t, mail.body, "Luis Vega")
	require.Contains(t, mail.body, "http://localhost:3000/dashboard/home")
}

func TestNotificationServiceQueueRoundTrip(t *testing.T) {
	sender := newSenderStub()
	svc := testNotificationService(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.NotifyIncident(&models.Incident{
		ID: "inc-1", WorkerName: "Ana Torres", SubtypeName: "Overtime",
		State: models.StatePendingManager,
	})

	select {
	case mail := <-sender.sent:
		require.Equal(t, []string{"gerente@example.com"}, mail.to)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
}

func TestNotificationServiceSkipsTerminalStates(t *testing.T) {
	sender := newSenderStub()
	svc := testNotificationService(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.NotifyIncident(&models.Incident{ID: "inc-1", State: models.StateApproved})

	select {
	case <-sender.sent:
		t.Fatal("terminal state must not notify")
	case <-time.After(100 * time.Millisecond):
	}
}
