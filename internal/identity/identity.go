// Package identity resolves who is calling the management surface: an
// authenticated subject from the auth provider, or a client-generated
// anonymous id. The resolved identity is passed explicitly into every
// registry call; nothing reads it from ambient state.
package identity

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/hooklens/hooklens/internal/models"
	"github.com/hooklens/hooklens/internal/storage"
)

var (
	ErrNoIdentity   = errors.New("no identity: sign in or supply an anonymous id")
	ErrTokenInvalid = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

type Identity struct {
	Kind models.OwnerKind
	ID   string
}

func Authenticated(subject string) Identity {
	return Identity{Kind: models.OwnerUser, ID: subject}
}

func Anonymous(clientID string) Identity {
	return Identity{Kind: models.OwnerAnon, ID: clientID}
}

func (i Identity) IsAuthenticated() bool {
	return i.Kind == models.OwnerUser
}

func (i Identity) Owner() models.Owner {
	return models.Owner{Kind: i.Kind, ID: i.ID}
}

// Verifier validates a session token against the auth provider and yields
// the opaque subject id.
type Verifier interface {
	Verify(ctx context.Context, token string) (subject string, err error)
}

type Resolver struct {
	verifier Verifier
	store    storage.Storage
	log      zerolog.Logger
}

func NewResolver(verifier Verifier, store storage.Storage, log zerolog.Logger) *Resolver {
	return &Resolver{verifier: verifier, store: store, log: log}
}

// Resolve picks the caller's identity. A valid session wins over a supplied
// anonymous id; an invalid session is an error, never a fallback to
// anonymous. With neither, the caller must generate its anonymous id first.
func (r *Resolver) Resolve(ctx context.Context, sessionToken, anonymousID string) (Identity, error) {
	if sessionToken != "" {
		subject, err := r.verifier.Verify(ctx, sessionToken)
		if err != nil {
			return Identity{}, err
		}
		return Authenticated(subject), nil
	}
	if anonymousID != "" {
		return Anonymous(anonymousID), nil
	}
	return Identity{}, ErrNoIdentity
}

// MigrateOwnership re-parents every endpoint owned by the anonymous client
// to the authenticated subject. Run once when a session appears; running it
// again matches nothing and is a no-op.
func (r *Resolver) MigrateOwnership(ctx context.Context, subject, clientID string) (int64, error) {
	n, err := r.store.MigrateOwnership(ctx, subject, clientID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info().
			Str("subject", subject).
			Int64("migrated", n).
			Msg("migrated anonymous endpoints")
	}
	return n, nil
}
