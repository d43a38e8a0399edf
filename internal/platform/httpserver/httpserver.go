package httpserver

import (
	"net/http"
	"time"

	"glaze/internal/platform/config"
)

// New builds the HTTP server. The write timeout leaves headroom over the
// per-request timeout so handlers can still write their error response.
func New(cfg config.Server, handler http.Handler) *http.Server {
	write := 60 * time.Second
	if cfg.RequestTimeout > 0 && cfg.RequestTimeout+5*time.Second > write {
		write = cfg.RequestTimeout + 5*time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       120 * time.Second,
	}
}
