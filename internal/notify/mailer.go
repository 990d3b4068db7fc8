package notify

import (
	"lgl-sync/internal/model"

	"github.com/sirupsen/logrus"
)

// Mailer delivers member and admin notifications. Delivery is best-effort;
// the renewal sweep treats send failures as per-user errors, never as
// sweep-fatal.
type Mailer interface {
	SendRenewalReminder(m *model.Membership, stage string) error
	SendGraceReminder(m *model.Membership, daysOverdue int) error
	SendInactiveNotice(m *model.Membership) error
	SendAdminSummary(subject string, lines []string) error
	NotifyAdmin(subject, body string) error
}

// LogMailer writes notifications to the structured log. Production deploys
// swap in a transactional-email implementation behind the same interface.
type LogMailer struct {
	logger *logrus.Logger
}

func NewLogMailer(logger *logrus.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendRenewalReminder(member *model.Membership, stage string) error {
	m.logger.WithFields(logrus.Fields{
		"user_id": member.UserID,
		"stage":   stage,
	}).Info("renewal reminder")
	return nil
}

func (m *LogMailer) SendGraceReminder(member *model.Membership, daysOverdue int) error {
	m.logger.WithFields(logrus.Fields{
		"user_id":      member.UserID,
		"days_overdue": daysOverdue,
	}).Info("grace period reminder")
	return nil
}

func (m *LogMailer) SendInactiveNotice(member *model.Membership) error {
	m.logger.WithField("user_id", member.UserID).Info("membership inactive notice")
	return nil
}

func (m *LogMailer) SendAdminSummary(subject string, lines []string) error {
	m.logger.WithFields(logrus.Fields{
		"subject": subject,
		"lines":   len(lines),
	}).Info("admin summary")
	return nil
}

func (m *LogMailer) NotifyAdmin(subject, body string) error {
	m.logger.WithFields(logrus.Fields{
		"subject": subject,
		"body":    body,
	}).Warn("admin notification")
	return nil
}
