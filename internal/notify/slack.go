package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const reauthHint = "Refresh the token named by `git.token_env` in the config, then run `streak-keeper retry <id>`."

// SlackNotifier posts commit outcomes to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the commit details
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

// SlackField is one short key/value cell of an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a notifier. An empty URL disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackColor maps a notification type to an attachment color
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// BuildSlackMessage renders n as a webhook payload
func BuildSlackMessage(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:  SlackColor(n.Type),
		Title:  n.Subject(),
		Text:   n.Message,
		Footer: "streak-keeper",
	}
	if n.Repository != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Repository", Value: n.Repository, Short: true})
	}
	if !n.ScheduledAt.IsZero() {
		att.Fields = append(att.Fields, SlackField{Title: "Scheduled", Value: n.ScheduledAt.Format("Mon Jan 2 2006 15:04 MST"), Short: true})
		att.Ts = n.ScheduledAt.Unix()
	}
	if n.Hash != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Commit", Value: "`" + shortHash(n.Hash) + "`", Short: true})
	}
	if n.FailureKind != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Failure", Value: string(n.FailureKind), Short: true})
	}
	if n.NeedsReauth() {
		att.Text += "\n" + reauthHint
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts n to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(BuildSlackMessage(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
