package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hooklens/hooklens/internal/models"
)

var (
	// ErrNotFound means the endpoint or request does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the row exists but is owned by someone else.
	ErrForbidden = errors.New("forbidden")
)

// EndpointPatch carries the mutable endpoint fields. Nil fields are left
// untouched; template updates are last-write-wins.
type EndpointPatch struct {
	Name       *string
	Visibility *models.Visibility
	Template   *models.ResponseTemplate
}

type Storage interface {
	// Endpoint registry
	CreateEndpoint(ctx context.Context, ep *models.Endpoint) error
	ResolveEndpoint(ctx context.Context, id string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context, owner models.Owner) ([]models.Endpoint, error)
	UpdateEndpoint(ctx context.Context, id string, owner models.Owner, patch EndpointPatch) (*models.Endpoint, error)
	DeleteEndpoint(ctx context.Context, id string, owner models.Owner) error

	// Ownership migration: re-parents every endpoint owned by the anonymous
	// client to the authenticated subject. Idempotent; the second run
	// matches nothing.
	MigrateOwnership(ctx context.Context, subject, clientID string) (int64, error)

	// Retention
	DeleteExpiredAnonEndpoints(ctx context.Context, before time.Time) (int64, error)

	// Request store
	AppendRequest(ctx context.Context, rec *models.RequestRecord) error
	ListRequests(ctx context.Context, endpointID string, limit, offset int) ([]models.RequestRecord, error)
	GetRequest(ctx context.Context, endpointID, id string) (*models.RequestRecord, error)
	DeleteRequest(ctx context.Context, endpointID, id string) error
	CountRequests(ctx context.Context, endpointID string) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
