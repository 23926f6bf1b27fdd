package email

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mail-triage/internal/model"
)

// ParseMessage parses a raw RFC 5322 message into an Email. Only headers,
// the text body and attachment names are kept.
func ParseMessage(raw []byte) (model.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return model.Email{}, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	var e model.Email
	h := mr.Header

	e.MessageID, _ = h.MessageID()
	e.InReplyTo, _ = h.MsgIDList("In-Reply-To")
	e.References, _ = h.MsgIDList("References")
	e.Subject, _ = h.Subject()
	e.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		e.From = from[0].Address
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			e.To = append(e.To, a.Address)
		}
	}

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			if filename != "" {
				e.Attachments = append(e.Attachments, filename)
			}
		}
	}

	e.Body = strings.TrimSpace(textBody)
	if e.Body == "" && htmlBody != "" {
		e.Body = stripHTML(htmlBody)
	}
	return e, nil
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
