// Package notify mails grade changes to the people watching an account.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"gradeportal-backend/internal/components/assert"
	"gradeportal-backend/internal/components/telemetry"
	"gradeportal-backend/internal/gradediff"
	"gradeportal-backend/internal/scrape"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/notify")

const (
	report_notify_send    = "notify.send"
	report_notify_skipped = "notify.skipped"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type Notifier struct {
	config SmtpConfig
	tel    telemetry.API
}

func NewNotifier(config SmtpConfig, tel telemetry.API) Notifier {
	assert.NotEmptyStr(config.Server)
	assert.NotEmptyStr(config.EmailAddress)
	assert.NotNil(tel)

	return Notifier{
		config: config,
		tel:    telemetry.NewScopedAPI("notify", tel),
	}
}

// Message renders the subject and plain text body of a change mail.
func Message(result scrape.Result, changes []gradediff.Change) (subject, body string) {
	who := result.Username
	if result.AccountId != "" {
		who = fmt.Sprintf("%s (student %s)", result.Username, result.AccountId)
	}
	noun := "changes"
	if len(changes) == 1 {
		noun = "change"
	}
	subject = fmt.Sprintf("%d grade %s for %s", len(changes), noun, who)

	var b strings.Builder
	fmt.Fprintf(
		&b, "The %s portal reported the following for %s on %s.\n\n",
		result.District, who, result.ScrapedAt.Format(time.DateTime),
	)
	for _, c := range changes {
		b.WriteString("- ")
		b.WriteString(c.String())
		b.WriteString("\n")
	}
	return subject, b.String()
}

func (n Notifier) send(mail *email.Email) error {
	addr := fmt.Sprintf("%s:%d", n.config.Server, n.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}

// Notify mails the changes of a scrape, nothing is sent when there are none.
func (n Notifier) Notify(ctx context.Context, to []string, result scrape.Result, changes []gradediff.Change) error {
	if len(changes) == 0 || len(to) == 0 {
		n.tel.ReportDebug(report_notify_skipped, result.District, result.Username, len(changes), len(to))
		return nil
	}

	_, span := tracer.Start(ctx, "Notifier.Notify")
	defer span.End()
	span.SetAttributes(
		attribute.Int("changes", len(changes)),
		attribute.Int("recipients", len(to)),
	)

	subject, body := Message(result, changes)
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Grade Portal <%s>", n.config.EmailAddress)
	mail.To = to
	mail.Subject = subject
	mail.Text = []byte(body)

	err := n.send(mail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		n.tel.ReportBroken(report_notify_send, err, to)
		return err
	}
	return nil
}
