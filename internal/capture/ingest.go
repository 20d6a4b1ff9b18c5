// Package capture implements the request-time pipeline: resolve the
// endpoint, authorize, snapshot the inbound request, persist and fan out,
// then synthesize the configured response.
package capture

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hooklens/hooklens/internal/bus"
	"github.com/hooklens/hooklens/internal/models"
	"github.com/hooklens/hooklens/internal/storage"
)

var (
	// ErrUnauthorized means a private endpoint was called without the
	// exact configured bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidJSON means the inbound body declared JSON but did not
	// parse. Capture runs in strict mode: such calls are rejected.
	ErrInvalidJSON = errors.New("invalid json body")
)

// Inbound is the normalized view of one call hitting the capture route.
type Inbound struct {
	EndpointID string
	Method     string
	Headers    http.Header
	RawQuery   string
	Body       []byte
}

type Pipeline struct {
	store storage.Storage
	bus   *bus.Bus
	log   zerolog.Logger
}

func NewPipeline(store storage.Storage, b *bus.Bus, log zerolog.Logger) *Pipeline {
	return &Pipeline{store: store, bus: b, log: log}
}

// Ingest runs the pipeline for one inbound call and returns the endpoint
// whose template answers it. Terminal rejections are storage.ErrNotFound,
// ErrUnauthorized and ErrInvalidJSON; persistence and publish failures are
// logged and swallowed so the caller still gets its response.
func (p *Pipeline) Ingest(ctx context.Context, in Inbound) (*models.Endpoint, error) {
	ep, err := p.store.ResolveEndpoint(ctx, in.EndpointID)
	if err != nil {
		return nil, err
	}

	if ep.Private() {
		if !bearerMatches(in.Headers.Get("Authorization"), ep.AuthToken) {
			return nil, ErrUnauthorized
		}
	}

	body := in.Body
	if len(body) > 0 && declaresJSON(in.Headers.Get("Content-Type")) {
		canonical, err := canonicalizeJSON(body)
		if err != nil {
			return nil, ErrInvalidJSON
		}
		body = canonical
	}

	rec := &models.RequestRecord{
		ID:          models.NewRequestID(),
		EndpointID:  ep.ID,
		Method:      in.Method,
		Headers:     in.Headers,
		QueryParams: decodeQuery(in.RawQuery),
		Body:        string(body),
		SourceIP:    sourceIP(in.Headers),
		ReceivedAt:  time.Now().UTC(),
	}

	// Capture is unconditional once the snapshot exists: a caller hanging
	// up during the response delay must not retract the record, so the
	// insert runs detached from the request context.
	if err := p.store.AppendRequest(context.WithoutCancel(ctx), rec); err != nil {
		p.log.Error().Err(err).
			Str("endpoint_id", ep.ID).
			Str("method", in.Method).
			Msg("failed to persist captured request")
	} else {
		p.bus.Publish(ep.ID, rec)
	}

	return ep, nil
}

func bearerMatches(header, token string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := header[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) == 1
}

func declaresJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// canonicalizeJSON re-serializes the body with canonical whitespace. Value
// equality survives; key order may not.
func canonicalizeJSON(body []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func decodeQuery(rawQuery string) map[string][]string {
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		// ParseQuery keeps what it could decode before the error.
		return params
	}
	return params
}

func sourceIP(headers http.Header) string {
	if fwd := headers.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	return models.SourceUnknown
}
