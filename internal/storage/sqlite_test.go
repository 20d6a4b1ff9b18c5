package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooklens/hooklens/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newEndpoint(owner models.Owner) *models.Endpoint {
	return &models.Endpoint{
		ID:         models.NewEndpointID(),
		Name:       "test endpoint",
		Visibility: models.VisibilityPublic,
		Template:   models.DefaultTemplate(),
		Owner:      owner,
		CreatedAt:  time.Now().UTC(),
	}
}

func newRecord(endpointID string) *models.RequestRecord {
	return &models.RequestRecord{
		ID:          models.NewRequestID(),
		EndpointID:  endpointID,
		Method:      "POST",
		Headers:     map[string][]string{"Content-Type": {"application/json"}},
		QueryParams: map[string][]string{"a": {"1"}},
		Body:        `{"x":1}`,
		SourceIP:    "203.0.113.7",
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestEndpointCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := models.AnonOwner("client-1")

	ep := newEndpoint(owner)
	ep.Visibility = models.VisibilityPrivate
	ep.AuthToken = models.NewAuthToken()
	require.NoError(t, s.CreateEndpoint(ctx, ep))

	got, err := s.ResolveEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.ID, got.ID)
	assert.Equal(t, ep.Name, got.Name)
	assert.Equal(t, ep.AuthToken, got.AuthToken)
	assert.Equal(t, owner, got.Owner)
	assert.Equal(t, ep.Template, got.Template)

	_, err = s.ResolveEndpoint(ctx, "ep_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteEndpoint(ctx, ep.ID, owner))
	_, err = s.ResolveEndpoint(ctx, ep.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEndpointsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := models.UserOwner("user-1")

	older := newEndpoint(owner)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := newEndpoint(owner)
	require.NoError(t, s.CreateEndpoint(ctx, older))
	require.NoError(t, s.CreateEndpoint(ctx, newer))

	// Someone else's endpoint stays out of the listing.
	other := newEndpoint(models.UserOwner("user-2"))
	require.NoError(t, s.CreateEndpoint(ctx, other))

	eps, err := s.ListEndpoints(ctx, owner)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, newer.ID, eps[0].ID)
	assert.Equal(t, older.ID, eps[1].ID)
}

func TestUpdateEndpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := models.AnonOwner("client-1")

	ep := newEndpoint(owner)
	require.NoError(t, s.CreateEndpoint(ctx, ep))

	name := "renamed"
	tmpl := models.ResponseTemplate{
		StatusCode:  418,
		Headers:     map[string]string{"X-Custom": "yes"},
		Body:        "<teapot/>",
		ContentType: models.ContentXML,
		DelayMs:     250,
	}
	got, err := s.UpdateEndpoint(ctx, ep.ID, owner, EndpointPatch{Name: &name, Template: &tmpl})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, tmpl, got.Template)

	got, err = s.ResolveEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, tmpl, got.Template)
}

func TestUpdatePrivatizeGeneratesToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := models.AnonOwner("client-1")

	ep := newEndpoint(owner)
	require.NoError(t, s.CreateEndpoint(ctx, ep))

	private := models.VisibilityPrivate
	got, err := s.UpdateEndpoint(ctx, ep.ID, owner, EndpointPatch{Visibility: &private})
	require.NoError(t, err)
	assert.NotEmpty(t, got.AuthToken)

	// Flipping visibility again keeps the existing token.
	token := got.AuthToken
	public := models.VisibilityPublic
	_, err = s.UpdateEndpoint(ctx, ep.ID, owner, EndpointPatch{Visibility: &public})
	require.NoError(t, err)
	got, err = s.UpdateEndpoint(ctx, ep.ID, owner, EndpointPatch{Visibility: &private})
	require.NoError(t, err)
	assert.Equal(t, token, got.AuthToken)
}

func TestOwnershipGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := models.AnonOwner("client-1")
	intruder := models.AnonOwner("client-2")

	ep := newEndpoint(owner)
	require.NoError(t, s.CreateEndpoint(ctx, ep))

	name := "stolen"
	_, err := s.UpdateEndpoint(ctx, ep.ID, intruder, EndpointPatch{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	err = s.DeleteEndpoint(ctx, ep.ID, intruder)
	assert.ErrorIs(t, err, ErrForbidden)

	err = s.DeleteEndpoint(ctx, "ep_missing", intruder)
	assert.ErrorIs(t, err, ErrNotFound)

	// The rightful owner still gets through.
	_, err = s.UpdateEndpoint(ctx, ep.ID, owner, EndpointPatch{Name: &name})
	assert.NoError(t, err)
}

func TestMigrateOwnershipIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	anon := models.AnonOwner("client-1")

	for range 3 {
		require.NoError(t, s.CreateEndpoint(ctx, newEndpoint(anon)))
	}
	// Another client's endpoint must not move.
	require.NoError(t, s.CreateEndpoint(ctx, newEndpoint(models.AnonOwner("client-2"))))

	n, err := s.MigrateOwnership(ctx, "user-1", "client-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	eps, err := s.ListEndpoints(ctx, models.UserOwner("user-1"))
	require.NoError(t, err)
	assert.Len(t, eps, 3)

	// Second run matches nothing.
	n, err = s.MigrateOwnership(ctx, "user-1", "client-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	eps, err = s.ListEndpoints(ctx, models.UserOwner("user-1"))
	require.NoError(t, err)
	assert.Len(t, eps, 3)

	remaining, err := s.ListEndpoints(ctx, models.AnonOwner("client-2"))
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestRequestAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := models.AnonOwner("client-1")

	ep := newEndpoint(owner)
	require.NoError(t, s.CreateEndpoint(ctx, ep))

	older := newRecord(ep.ID)
	older.ReceivedAt = time.Now().UTC().Add(-time.Minute)
	newer := newRecord(ep.ID)
	require.NoError(t, s.AppendRequest(ctx, older))
	require.NoError(t, s.AppendRequest(ctx, newer))

	recs, err := s.ListRequests(ctx, ep.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, newer.ID, recs[0].ID)
	assert.Equal(t, older.ID, recs[1].ID)
	assert.Equal(t, older.Headers, recs[1].Headers)
	assert.Equal(t, older.QueryParams, recs[1].QueryParams)
	assert.Equal(t, older.Body, recs[1].Body)
	assert.Equal(t, older.SourceIP, recs[1].SourceIP)

	total, err := s.CountRequests(ctx, ep.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	got, err := s.GetRequest(ctx, ep.ID, older.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	require.NoError(t, s.DeleteRequest(ctx, ep.ID, older.ID))
	assert.ErrorIs(t, s.DeleteRequest(ctx, ep.ID, older.ID), ErrNotFound)
}

func TestDeleteEndpointCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := models.AnonOwner("client-1")

	ep := newEndpoint(owner)
	require.NoError(t, s.CreateEndpoint(ctx, ep))
	require.NoError(t, s.AppendRequest(ctx, newRecord(ep.ID)))
	require.NoError(t, s.AppendRequest(ctx, newRecord(ep.ID)))

	require.NoError(t, s.DeleteEndpoint(ctx, ep.ID, owner))

	total, err := s.CountRequests(ctx, ep.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestDeleteExpiredAnonEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expired := newEndpoint(models.AnonOwner("client-1"))
	expired.CreatedAt = time.Now().UTC().Add(-100 * time.Hour)
	fresh := newEndpoint(models.AnonOwner("client-1"))
	// Authenticated endpoints never expire, however old.
	owned := newEndpoint(models.UserOwner("user-1"))
	owned.CreatedAt = time.Now().UTC().Add(-1000 * time.Hour)

	require.NoError(t, s.CreateEndpoint(ctx, expired))
	require.NoError(t, s.CreateEndpoint(ctx, fresh))
	require.NoError(t, s.CreateEndpoint(ctx, owned))

	n, err := s.DeleteExpiredAnonEndpoints(ctx, time.Now().UTC().Add(-72*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.ResolveEndpoint(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ResolveEndpoint(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = s.ResolveEndpoint(ctx, owned.ID)
	assert.NoError(t, err)
}
