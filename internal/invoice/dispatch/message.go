package dispatch

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/render"
	"github.com/smallbiznis/invoicedesk/internal/providers/email"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	subjectTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.subject.tmpl"))
	textTemplates    = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.text.tmpl"))
	htmlTemplates    = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl"))
)

var supportedLanguages = language.NewMatcher([]language.Tag{language.English, language.German})

type messageData struct {
	Recipient string
	Number    string
	Total     string
	DueDate   string
	Reference string
	Seller    string
	Signature []string
}

func templateLanguage(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return "en"
	}
	_, index, _ := supportedLanguages.Match(tag)
	if index == 1 {
		return "de"
	}
	return "en"
}

// newMessageID returns a globally unique id in the sender's domain.
func newMessageID(sellerEmail string) string {
	host := "invoicedesk.local"
	if _, domainPart, ok := strings.Cut(strings.TrimSpace(sellerEmail), "@"); ok && domainPart != "" {
		host = domainPart
	}
	return ulid.Make().String() + "@" + host
}

func composeMessage(profile config.DocumentProfile, view domain.InvoiceView, doc domain.RenderedDocument, messageID string) (email.Message, error) {
	formatter := render.NewFormatter(profile.Locale, profile.Currency)
	recipient := strings.TrimSpace(view.Client.Name)
	if recipient == "" {
		recipient = view.Client.DisplayName()
	}
	data := messageData{
		Recipient: recipient,
		Number:    view.DisplayNumber,
		Total:     formatter.Money(view.Total),
		DueDate:   formatter.Date(view.DueDate),
		Reference: view.ClientReference,
		Seller:    profile.Seller.Name,
		Signature: profile.Signature,
	}

	lang := templateLanguage(profile.Locale)
	var subject, text, html bytes.Buffer
	if err := subjectTemplates.ExecuteTemplate(&subject, lang+".subject.tmpl", data); err != nil {
		return email.Message{}, fmt.Errorf("subject template: %w", err)
	}
	if err := textTemplates.ExecuteTemplate(&text, lang+".text.tmpl", data); err != nil {
		return email.Message{}, fmt.Errorf("text template: %w", err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, lang+".html.tmpl", data); err != nil {
		return email.Message{}, fmt.Errorf("html template: %w", err)
	}

	return email.Message{
		MessageID: messageID,
		To:        []string{strings.TrimSpace(view.Client.Email)},
		Subject:   strings.TrimSpace(subject.String()),
		TextBody:  text.String(),
		HTMLBody:  html.String(),
		Attachments: []email.Attachment{{
			Filename:    doc.Filename,
			ContentType: doc.ContentType,
			Data:        doc.Bytes,
		}},
	}, nil
}
