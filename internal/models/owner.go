package models

import "fmt"

type OwnerKind string

const (
	OwnerUser OwnerKind = "user"
	OwnerAnon OwnerKind = "anon"
)

// Owner identifies who controls an endpoint: either an authenticated subject
// from the auth provider or a client-generated anonymous id. Exactly one of
// the two, carried as a tagged value rather than a pair of nullable columns.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func UserOwner(subject string) Owner {
	return Owner{Kind: OwnerUser, ID: subject}
}

func AnonOwner(clientID string) Owner {
	return Owner{Kind: OwnerAnon, ID: clientID}
}

func (o Owner) IsZero() bool {
	return o.Kind == "" && o.ID == ""
}

func (o Owner) Validate() error {
	if o.Kind != OwnerUser && o.Kind != OwnerAnon {
		return fmt.Errorf("invalid owner kind %q", o.Kind)
	}
	if o.ID == "" {
		return fmt.Errorf("owner id is required")
	}
	return nil
}

func (o Owner) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}
