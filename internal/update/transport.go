package update

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// newFeedTransport returns a proxy-aware transport that negotiates
// HTTP/2 with the release host. A fresh Transport is required because
// http2.ConfigureTransport refuses one that already registered h2.
func newFeedTransport() http.RoundTripper {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	// On failure the transport stays HTTP/1.1 only.
	_ = http2.ConfigureTransport(t)
	return t
}
