package service

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"

	"usergate/internal/metrics"
)

// Mail template names
const (
	MailSignup           = "signup"
	MailPasswordReset    = "passwordreset"
	MailNewUser          = "newuser"
	MailMailVerification = "mailverification"
)

//go:embed templates/*.txt
var mailTemplates embed.FS

// Mailer delivers templated mails
type Mailer interface {
	Send(ctx context.Context, to, subject, template string, data any) error
}

// MailData is passed to every mail template
type MailData struct {
	Organisation string
	Displayname  string
	Loginname    string
	Link         string
}

type sesClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailService sends mails via Amazon SES
type EmailService struct {
	client    sesClient
	templates *template.Template
	fromEmail string
	fromName  string
	enabled   bool
	attempts  uint
	delay     time.Duration
	log       zerolog.Logger
}

// NewEmailService creates a new email service. Without fromEmail the
// service is disabled and only logs the mails it would send.
func NewEmailService(ctx context.Context, awsRegion, fromEmail, fromName string, log zerolog.Logger) (*EmailService, error) {
	tmpl, err := template.ParseFS(mailTemplates, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}

	s := &EmailService{
		templates: tmpl,
		fromEmail: fromEmail,
		fromName:  fromName,
		attempts:  3,
		delay:     500 * time.Millisecond,
		log:       log.With().Str("component", "email").Logger(),
	}

	if fromEmail == "" {
		s.log.Warn().Msg("Email service disabled: SES_FROM_EMAIL not configured")
		return s, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	s.client = sesv2.NewFromConfig(cfg)
	s.enabled = true

	s.log.Info().Str("from", fromEmail).Str("region", awsRegion).Msg("Email service enabled")
	return s, nil
}

// IsEnabled returns whether the email service is enabled
func (s *EmailService) IsEnabled() bool {
	return s.enabled
}

// Send renders the named template with data and delivers it to one recipient
func (s *EmailService) Send(ctx context.Context, to, subject, name string, data any) error {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, name+".txt", data); err != nil {
		return fmt.Errorf("failed to render mail template %s: %w", name, err)
	}

	if !s.enabled {
		s.log.Info().Str("to", to).Str("template", name).Msg("Skipping email send (service disabled)")
		s.log.Debug().Str("to", to).Str("subject", subject).Msg(body.String())
		return nil
	}

	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(body.String()),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	err := retry.Do(
		func() error {
			_, err := s.client.SendEmail(ctx, input)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn().Err(err).Uint("attempt", n+1).Str("to", to).Msg("Retrying email send")
		}),
	)
	if err != nil {
		metrics.MailFailures.WithLabelValues(name).Inc()
		return fmt.Errorf("failed to send email to %s: %w", to, errors.Join(ErrMailNotSent, err))
	}

	s.log.Info().Str("to", to).Str("template", name).Msg("Email sent successfully")
	return nil
}
