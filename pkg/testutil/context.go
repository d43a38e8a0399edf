package testutil

import (
	"net/http"
	"time"

	"glaze/pkg/requestcontext"
)

// WithRequestTime pins the request-scoped clock, as requesttime.Middleware
// would for a request arriving at now.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
