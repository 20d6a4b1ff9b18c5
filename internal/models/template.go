package models

import "time"

type ContentType string

const (
	ContentJSON ContentType = "json"
	ContentText ContentType = "text"
	ContentXML  ContentType = "xml"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentJSON, ContentText, ContentXML:
		return true
	}
	return false
}

// HeaderValue maps the stored content type onto the Content-Type response header.
func (c ContentType) HeaderValue() string {
	switch c {
	case ContentText:
		return "text/plain"
	case ContentXML:
		return "application/xml"
	default:
		return "application/json"
	}
}

// ResponseTemplate describes what an endpoint answers callers with. The body
// is returned byte-for-byte at capture time; validity against the declared
// content type is the owner's problem, checked only when the template is saved.
type ResponseTemplate struct {
	StatusCode  int               `json:"status_code" validate:"gte=100,lte=599"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	ContentType ContentType       `json:"content_type" validate:"oneof=json text xml"`
	DelayMs     int               `json:"delay_ms" validate:"gte=0"`
}

func (t ResponseTemplate) Delay() time.Duration {
	return time.Duration(t.DelayMs) * time.Millisecond
}

func DefaultTemplate() ResponseTemplate {
	return ResponseTemplate{
		StatusCode:  200,
		Headers:     map[string]string{},
		Body:        `{"message":"OK"}`,
		ContentType: ContentJSON,
		DelayMs:     0,
	}
}
