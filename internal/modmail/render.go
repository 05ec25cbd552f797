package modmail

import (
	"fmt"
	"strings"
)

// Color is an accent colour for a relayed message.
type Color int

const (
	ColorPrimary  Color = 0x5865F2
	ColorPositive Color = 0x57F287
	ColorNegative Color = 0xED4245
	ColorNeutral  Color = 0x99AAB5
)

// Relay markers used as message titles.
const (
	MarkerReceived  = "Message Received"
	MarkerSent      = "Message Sent"
	MarkerFailed    = "Message Failed"
	MarkerNewThread = "New Thread"
	MarkerBlocked   = "Message Not Delivered"
)

// Field is a labelled value inside a relayed message.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RelayMessage is the platform-neutral content of one send. Transports decide
// how to lay it out.
type RelayMessage struct {
	Title       string       `json:"title,omitempty"`
	Author      string       `json:"author,omitempty"`
	AuthorIcon  string       `json:"author_icon,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []Field      `json:"fields,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`
	Footer      string       `json:"footer,omitempty"`
	Color       Color        `json:"color"`
}

// AttachmentList renders attachments one per line as "name → url".
func AttachmentList(attachments []Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	lines := make([]string, 0, len(attachments))
	for _, a := range attachments {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = "attachment"
		}
		lines = append(lines, fmt.Sprintf("%s → %s", name, a.URL))
	}
	return strings.Join(lines, "\n")
}

func interactionFooter(id int64) string {
	return fmt.Sprintf("Interaction #%d", id)
}

// relayBody builds the shared part of every relayed message: author identity,
// raw text and the attachment list.
func relayBody(title, author, icon, content string, attachments []Attachment, color Color) RelayMessage {
	msg := RelayMessage{
		Title:       title,
		Author:      author,
		AuthorIcon:  icon,
		Description: content,
		Color:       color,
	}
	if len(attachments) > 0 {
		msg.Attachments = append([]Attachment(nil), attachments...)
		msg.Fields = append(msg.Fields, Field{Name: "Attachments", Value: AttachmentList(attachments)})
	}
	return msg
}

func recipientRelayMessage(profile RecipientProfile, msg NormalizedMessage, interactionID int64, subscribers []string) RelayMessage {
	out := relayBody(MarkerReceived, profile.DisplayName, profile.AvatarURL, msg.Content, msg.Attachments, ColorPrimary)
	out.Mentions = append([]string(nil), subscribers...)
	out.Footer = interactionFooter(interactionID)
	return out
}

func moderatorOutboundMessage(msg NormalizedMessage) RelayMessage {
	return relayBody("", msg.DisplayName(), "", msg.Content, msg.Attachments, ColorPrimary)
}

func moderatorConfirmation(msg NormalizedMessage, interactionID int64, delivered bool) RelayMessage {
	title, color := MarkerSent, ColorPositive
	if !delivered {
		title, color = MarkerFailed, ColorNegative
	}
	out := relayBody(title, msg.DisplayName(), "", msg.Content, msg.Attachments, color)
	out.Footer = interactionFooter(interactionID)
	return out
}

func blockedNotice(reason string) RelayMessage {
	if strings.TrimSpace(reason) == "" {
		reason = "No reason provided"
	}
	return RelayMessage{
		Title:       MarkerBlocked,
		Description: "You are blocked from opening modmail threads.",
		Fields:      []Field{{Name: "Reason", Value: reason}},
		Color:       ColorNegative,
	}
}

func receivedNotice() RelayMessage {
	return RelayMessage{
		Title:       MarkerReceived,
		Description: "Thanks for reaching out. A moderator will reply here as soon as possible.",
		Color:       ColorPositive,
	}
}
