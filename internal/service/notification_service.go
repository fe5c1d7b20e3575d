package service

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hr-incidents-api/internal/models"
	"github.com/noah-isme/hr-incidents-api/pkg/config"
	"github.com/noah-isme/hr-incidents-api/pkg/jobs"
)

// EmailSender delivers a rendered message to a set of recipients.
type EmailSender interface {
	Send(ctx context.Context, to []string, subject, htmlBody string) error
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	cfg config.SMTPConfig
}

// NewSMTPSender constructs the sender.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one HTML message.
func (s *SMTPSender) Send(_ context.Context, to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return nil
	}
	var msg strings.Builder
	msg.WriteString("From: " + s.cfg.From + "\r\n")
	msg.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

type recipientDirectory interface {
	EmailsByRole(ctx context.Context, role models.UserRole) ([]string, error)
}

// notificationPayload travels through the job queue.
type notificationPayload struct {
	Incident models.Incident
}

// NotificationService fans out workflow emails to the role group that
// owns the incident's new stage. Delivery is asynchronous and never
// blocks or fails the transition that triggered it.
type NotificationService struct {
	queue     *jobs.Queue[notificationPayload]
	sender    EmailSender
	directory recipientDirectory
	cfg       config.NotificationsConfig
	logger    *zap.Logger
}

// NewNotificationService constructs the dispatcher with its own queue.
func NewNotificationService(sender EmailSender, directory recipientDirectory, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		sender:    sender,
		directory: directory,
		cfg:       cfg,
		logger:    logger,
	}
	svc.queue = jobs.NewQueue("notifications", svc.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyIncident enqueues a notification for the incident's current
// state. Failures are logged and swallowed.
func (s *NotificationService) NotifyIncident(incident *models.Incident) {
	if !s.cfg.Enabled || incident == nil {
		return
	}
	if _, ok := recipientRoleFor(incident.State); !ok {
		return
	}
	err := s.queue.Enqueue(jobs.Job[notificationPayload]{
		ID:      uuid.NewString(),
		Payload: notificationPayload{Incident: *incident},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue incident notification",
			zap.String("incident_id", incident.ID), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job[notificationPayload]) error {
	incident := job.Payload.Incident
	role, ok := recipientRoleFor(incident.State)
	if !ok {
		return nil
	}
	emails, err := s.directory.EmailsByRole(ctx, role)
	if err != nil {
		return fmt.Errorf("resolve recipients for %s: %w", role, err)
	}
	if len(emails) == 0 {
		s.logger.Info("no active recipients for incident notification",
			zap.String("incident_id", incident.ID), zap.String("role", string(role)))
		return nil
	}
	subject := fmt.Sprintf("Incident pending review: %s for %s", incident.SubtypeName, incident.WorkerName)
	return s.sender.Send(ctx, emails, subject, s.renderBody(&incident))
}

// recipientRoleFor maps the incident's new state to the role group that
// must act on it. Terminal states notify nobody.
func recipientRoleFor(state models.IncidentState) (models.UserRole, bool) {
	switch state {
	case models.StatePendingManager:
		return models.RoleManager, true
	case models.StatePendingReviewer:
		return models.RoleReviewer, true
	default:
		return "", false
	}
}

func (s *NotificationService) renderBody(incident *models.Incident) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h2>An incident is waiting for your review</h2>")
	b.WriteString("<table cellpadding=\"4\">")
	writeRow := func(label, value string) {
		b.WriteString("<tr><td><b>" + label + "</b></td><td>" + value + "</td></tr>")
	}
	writeRow("Worker", fmt.Sprintf("%s (%s)", incident.WorkerName, incident.WorkerID))
	writeRow("Subtype", incident.SubtypeName)
	writeRow("Concept", incident.ConceptCode)
	if incident.Amount != nil {
		writeRow("Amount", fmt.Sprintf("%.2f", *incident.Amount))
	}
	if incident.Quantity != nil {
		writeRow("Quantity", fmt.Sprintf("%d", *incident.Quantity))
	}
	if incident.Hours != nil {
		writeRow("Hours", fmt.Sprintf("%.2f", *incident.Hours))
	}
	writeRow("Registered by", incident.RegistrantName)
	writeRow("Effective", fmt.Sprintf("%s to %s",
		incident.EffectiveFrom.Format("2006-01-02"), incident.EffectiveTo.Format("2006-01-02")))
	b.WriteString("</table>")
	if s.cfg.AppURL != "" {
		b.WriteString(fmt.Sprintf("<p><a href=\"%s\">Open the incident dashboard</a></p>", s.cfg.AppURL))
	}
	b.WriteString("</body></html>")
	return b.String()
}
