package outlook

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/ical"
)

const fileAttachmentType = "#microsoft.graph.fileAttachment"

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes []byte `json:"contentBytes"`
	ContentID    string `json:"contentId,omitempty"`
	IsInline     bool   `json:"isInline,omitempty"`
}

type graphMessage struct {
	Subject       string           `json:"subject"`
	Body          itemBody         `json:"body"`
	ToRecipients  []recipient      `json:"toRecipients"`
	CcRecipients  []recipient      `json:"ccRecipients,omitempty"`
	ReplyTo       []recipient      `json:"replyTo,omitempty"`
	Attachments   []fileAttachment `json:"attachments,omitempty"`
	InternetMsgID string           `json:"internetMessageId,omitempty"`
}

// SendMail sends through /me/sendMail. Graph does not return the message, so
// the result carries the internet message id set on the request.
func (a *App) SendMail(ctx context.Context, app core.ConnectedAppData, email core.Email) (core.SendMailResult, error) {
	return core.Guard(ctx, a.boundary(app, "send_mail", keySendFailed), func(ctx context.Context) (core.SendMailResult, error) {
		message, err := a.toGraphMessage(email)
		if err != nil {
			return core.SendMailResult{}, err
		}
		graph, err := a.graph(ctx, app)
		if err != nil {
			return core.SendMailResult{}, err
		}
		if err := graph.sendMail(ctx, message); err != nil {
			return core.SendMailResult{}, err
		}
		return core.SendMailResult{MessageID: message.InternetMsgID}, nil
	})
}

func (a *App) toGraphMessage(email core.Email) (graphMessage, error) {
	if err := email.Validate(); err != nil {
		return graphMessage{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	message := graphMessage{
		Subject:       email.Subject,
		Body:          itemBody{ContentType: "html", Content: email.HTML},
		ToRecipients:  recipients(email.To),
		CcRecipients:  recipients(email.CC),
		InternetMsgID: "<" + uuid.NewString() + "@apps.outlook>",
	}
	if email.HTML == "" {
		message.Body = itemBody{ContentType: "text", Content: email.Text}
	}
	if email.ReplyTo != "" {
		message.ReplyTo = recipients([]string{email.ReplyTo})
	}
	for _, attachment := range email.Attachments {
		message.Attachments = append(message.Attachments, fileAttachment{
			ODataType:    fileAttachmentType,
			Name:         attachment.Filename,
			ContentType:  attachment.ContentType,
			ContentBytes: attachment.Content,
			ContentID:    attachment.ContentID,
			IsInline:     attachment.ContentID != "",
		})
	}
	if email.ICalEvent != nil {
		invite, err := ical.EncodeEvent(email.ICalEvent.Method, email.ICalEvent.Event, ical.EncodeOptions{Now: a.props.Clock()})
		if err != nil {
			return graphMessage{}, err
		}
		filename := email.ICalEvent.Filename
		if filename == "" {
			filename = "invite.ics"
		}
		message.Attachments = append(message.Attachments, fileAttachment{
			ODataType:    fileAttachmentType,
			Name:         filename,
			ContentType:  "text/calendar; method=" + string(email.ICalEvent.Method) + "; charset=UTF-8",
			ContentBytes: invite,
		})
	}
	return message, nil
}

func recipients(addresses []string) []recipient {
	if len(addresses) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(addresses))
	for _, address := range addresses {
		if address == "" {
			continue
		}
		out = append(out, recipient{EmailAddress: emailAddress{Address: address}})
	}
	return out
}
