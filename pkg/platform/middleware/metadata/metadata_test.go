package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glaze/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "proxy appended hop", headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, remote: "10.0.0.2:443", want: "198.51.100.1"},
		{name: "spoofed leading hop ignored", headers: map[string]string{"X-Forwarded-For": "203.0.113.99, 198.51.100.1"}, remote: "10.0.0.2:443", want: "198.51.100.1"},
		{name: "untrusted peer ignores headers", headers: map[string]string{"X-Forwarded-For": "198.51.100.2", "X-Real-IP": "198.51.100.3"}, remote: "192.0.2.50:80", want: "192.0.2.50"},
		{name: "all hops trusted uses leftmost", headers: map[string]string{"X-Forwarded-For": "10.1.1.1, 10.0.0.1"}, remote: "127.0.0.1:80", want: "10.1.1.1"},
		{name: "garbage hop stops the walk", headers: map[string]string{"X-Forwarded-For": "198.51.100.8, <script>"}, remote: "10.0.0.2:443", want: "10.0.0.2"},
		{name: "real ip behind trusted peer", headers: map[string]string{"X-Real-IP": "198.51.100.3"}, remote: "10.0.0.2:443", want: "198.51.100.3"},
		{name: "remote addr ipv4", remote: "192.0.2.10:5555", want: "192.0.2.10"},
		{name: "remote addr ipv6", remote: "[2001:db8::1]:5555", want: "2001:db8::1"},
		{name: "mapped ipv4 unwrapped", remote: "[::ffff:192.0.2.12]:80", want: "192.0.2.12"},
		{name: "no usable address", remote: "pipe", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(r))
		})
	}
}

func TestResolverWithCustomProxies(t *testing.T) {
	res, err := NewResolver([]string{"203.0.113.10", "198.18.0.0/15"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.10:443"
	r.Header.Set("X-Forwarded-For", "192.0.2.7, 198.18.4.4")
	assert.Equal(t, "192.0.2.7", res.ClientIP(r))

	r.RemoteAddr = "10.0.0.2:443"
	assert.Equal(t, "10.0.0.2", res.ClientIP(r), "private ranges are not trusted unless listed")

	_, err = NewResolver([]string{"not-a-cidr"})
	assert.Error(t, err)
}

func TestClientMetadataMiddleware(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.44:1234"
	r.Header.Set("User-Agent", "Mozilla/5.0 Firefox/128.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "192.0.2.44", gotIP)
	assert.Equal(t, "Mozilla/5.0 Firefox/128.0", gotUA)
}
