package smtp

import (
	"bytes"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	emailaddress "github.com/mcnijman/go-emailaddress"
	gomail "github.com/wneessen/go-mail"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/ical"
)

var (
	tagPattern   = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	blankPattern = regexp.MustCompile(`\n{3,}`)
)

type message struct {
	id         string
	recipients int
	msg        *gomail.Msg
}

// parseAddress accepts "Name <user@host>" or a bare address and rejects
// anything that is not a deliverable address.
func parseAddress(raw string) (*mail.Address, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if _, err := emailaddress.Parse(addr.Address); err != nil {
		return nil, err
	}
	return addr, nil
}

func parseAddresses(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		addr, err := parseAddress(value)
		if err != nil {
			return nil, invalidAddress(value, err)
		}
		out = append(out, addr.String())
	}
	return out, nil
}

func invalidAddress(address string, err error) error {
	return core.NewAppError(core.ErrorKindConfig, keyInvalidAddress, map[string]any{"address": address}, err)
}

// buildMessage renders email as multipart/mixed with a multipart/alternative
// body. An iCal event is added both as a text/calendar alternative and as an
// .ics attachment after the caller's attachments.
func buildMessage(email core.Email, data AppData, now time.Time) (message, error) {
	if err := email.Validate(); err != nil {
		return message{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	from := &mail.Address{Name: data.FromName, Address: data.FromEmail}
	if email.From != "" {
		parsed, err := parseAddress(email.From)
		if err != nil {
			return message{}, invalidAddress(email.From, err)
		}
		from = parsed
	}
	to, err := parseAddresses(email.To)
	if err != nil {
		return message{}, err
	}
	if len(to) == 0 {
		return message{}, core.ConfigError(keyInvalidAddress, map[string]any{"address": ""})
	}
	cc, err := parseAddresses(email.CC)
	if err != nil {
		return message{}, err
	}

	domain := "localhost"
	if at := strings.LastIndex(from.Address, "@"); at >= 0 {
		domain = from.Address[at+1:]
	}
	out := message{
		id:         "<" + uuid.NewString() + "@" + domain + ">",
		recipients: len(to) + len(cc),
		msg:        gomail.NewMsg(),
	}
	m := out.msg
	if err := m.From(from.String()); err != nil {
		return message{}, invalidAddress(from.String(), err)
	}
	if err := m.To(to...); err != nil {
		return message{}, invalidAddress(strings.Join(to, ", "), err)
	}
	if len(cc) > 0 {
		if err := m.Cc(cc...); err != nil {
			return message{}, invalidAddress(strings.Join(cc, ", "), err)
		}
	}
	if email.ReplyTo != "" {
		replyTo, err := parseAddress(email.ReplyTo)
		if err != nil {
			return message{}, invalidAddress(email.ReplyTo, err)
		}
		if err := m.ReplyTo(replyTo.String()); err != nil {
			return message{}, invalidAddress(email.ReplyTo, err)
		}
	}
	m.Subject(email.Subject)
	m.SetDateWithValue(now)
	m.SetGenHeader(gomail.HeaderMessageID, out.id)

	text := email.Text
	if text == "" && email.HTML != "" {
		text = htmlToText(email.HTML)
	}
	m.SetBodyString(gomail.TypeTextPlain, text)
	if email.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, email.HTML)
	}

	var invite []byte
	if email.ICalEvent != nil {
		invite, err = ical.EncodeEvent(email.ICalEvent.Method, email.ICalEvent.Event, ical.EncodeOptions{Now: now})
		if err != nil {
			return message{}, err
		}
		m.AddAlternativeString(gomail.ContentType("text/calendar; method="+string(email.ICalEvent.Method)), string(invite))
	}
	for _, attachment := range email.Attachments {
		if err := attach(m, attachment); err != nil {
			return message{}, err
		}
	}
	if invite != nil {
		filename := email.ICalEvent.Filename
		if filename == "" {
			filename = "invite.ics"
		}
		if err := attach(m, core.EmailAttachment{Filename: filename, ContentType: "application/ics", Content: invite}); err != nil {
			return message{}, err
		}
	}
	return out, nil
}

// attach adds a file part. Parts with a content id are embedded inline and
// named after the id so HTML can reference them as cid:<id>.
func attach(m *gomail.Msg, attachment core.EmailAttachment) error {
	contentType := attachment.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(attachment.Content).String()
	}
	opt := gomail.WithFileContentType(gomail.ContentType(contentType))
	if attachment.ContentID != "" {
		return m.EmbedReader(strings.Trim(attachment.ContentID, "<>"), bytes.NewReader(attachment.Content), opt)
	}
	return m.AttachReader(attachment.Filename, bytes.NewReader(attachment.Content), opt)
}

func htmlToText(value string) string {
	text := tagPattern.ReplaceAllString(strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n\n").Replace(value), "")
	text = html.UnescapeString(text)
	return strings.TrimSpace(blankPattern.ReplaceAllString(text, "\n\n"))
}
