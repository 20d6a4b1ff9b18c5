package models

import "time"

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

type Endpoint struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Visibility Visibility       `json:"visibility"`
	AuthToken  string           `json:"auth_token,omitempty"`
	Template   ResponseTemplate `json:"response_template"`
	Owner      Owner            `json:"owner"`
	CreatedAt  time.Time        `json:"created_at"`
}

func (e *Endpoint) Private() bool {
	return e.Visibility == VisibilityPrivate
}
