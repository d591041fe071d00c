package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Service notifies the site owner via Teams and e-mail
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type     string         `json:"@type"`
	Context  string         `json:"@context"`
	Title    string         `json:"title"`
	Text     string         `json:"text"`
	Sections []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// notice is a channel independent notification
type notice struct {
	Subject string
	Title   string
	Text    string
	Link    string
	Facts   []TeamsFact
	Sent    time.Time
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// Enabled reports whether any channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// NotifyMention announces a newly stored mention
func (s *Service) NotifyMention(ctx context.Context, mention *models.Mention, permalink string) error {
	n := &notice{
		Subject: fmt.Sprintf("New webmention: %s", mention.Title),
		Title:   "New webmention received",
		Text:    fmt.Sprintf("%s mentioned document %s", mention.SourceURL, mention.TargetDocumentID),
		Link:    permalink,
		Facts: []TeamsFact{
			{Name: "Source", Value: mention.SourceURL},
			{Name: "Title", Value: mention.Title},
			{Name: "Status", Value: string(mention.ApprovalState)},
		},
		Sent: time.Now().UTC(),
	}
	return s.dispatch(ctx, n)
}

// NotifyExhausted reports a document whose webmentions could not be delivered
func (s *Service) NotifyExhausted(ctx context.Context, documentID string, tries int) error {
	n := &notice{
		Subject: fmt.Sprintf("Webmention delivery abandoned for document %s", documentID),
		Title:   "Webmention delivery abandoned",
		Text:    fmt.Sprintf("Gave up sending webmentions for document %s after %d retries", documentID, tries),
		Facts: []TeamsFact{
			{Name: "Document", Value: documentID},
			{Name: "Retries", Value: fmt.Sprintf("%d", tries)},
		},
		Sent: time.Now().UTC(),
	}
	return s.dispatch(ctx, n)
}

func (s *Service) dispatch(ctx context.Context, n *notice) error {
	var errors []string

	// Send to Teams if configured
	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(ctx, n); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Debug("Sent notification to Teams")
		}
	}

	// Send via email if configured
	if s.config.NotificationEmail != "" {
		if err := s.sendEmail(n); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Debug("Sent notification via email")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) sendToTeams(ctx context.Context, n *notice) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(buildTeamsMessage(n)).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func buildTeamsMessage(n *notice) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   n.Title,
		Text:    n.Text,
	}

	section := TeamsSection{
		ActivityTitle: "Details",
		Facts:         n.Facts,
		Markdown:      true,
	}
	if n.Link != "" {
		section.ActivityText = fmt.Sprintf("[View](%s)", n.Link)
	}
	message.Sections = append(message.Sections, section)

	return message
}

func (s *Service) sendEmail(n *notice) error {
	htmlBody, err := buildEmailHTML(n)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/plain", buildEmailText(n))
	m.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

var emailTemplate = template.Must(template.New("email").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .facts { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
        <p>{{.Sent.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>
    <p>{{.Text}}</p>
    <div class="facts">
    {{range .Facts}}
        <p><strong>{{.Name}}:</strong> {{.Value}}</p>
    {{end}}
    </div>
    {{if .Link}}<p><a href="{{.Link}}">View</a></p>{{end}}
</body>
</html>
`))

func buildEmailHTML(n *notice) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildEmailText(n *notice) string {
	var text strings.Builder

	text.WriteString(n.Title + "\n")
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", n.Sent.Format("2006-01-02 15:04:05 UTC")))
	text.WriteString(n.Text + "\n\n")

	for _, fact := range n.Facts {
		text.WriteString(fmt.Sprintf("%s: %s\n", fact.Name, fact.Value))
	}
	if n.Link != "" {
		text.WriteString(fmt.Sprintf("\nView: %s\n", n.Link))
	}

	return text.String()
}
