package capture

import (
	"context"
	"net/http"
	"time"

	"github.com/hooklens/hooklens/internal/models"
)

// Synthesize writes the template to w after the configured delay has
// elapsed. The wait is a timer select, so it suspends only this call; if
// the caller disconnects mid-delay the reply is abandoned and ctx.Err()
// comes back, with the already-captured record left standing.
//
// The body goes out byte-for-byte. Whether it is valid for the declared
// content type was the owner's concern when the template was saved.
func Synthesize(ctx context.Context, w http.ResponseWriter, tmpl models.ResponseTemplate) error {
	if d := tmpl.Delay(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	w.Header().Set("Content-Type", tmpl.ContentType.HeaderValue())
	// Extra configured headers merge in afterwards, so an explicit
	// Content-Type in the template headers wins.
	for k, v := range tmpl.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(tmpl.StatusCode)
	_, err := w.Write([]byte(tmpl.Body))
	return err
}
