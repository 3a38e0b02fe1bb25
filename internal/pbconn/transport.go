package pbconn

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// TransportFactory builds a fresh transport handle. Every Connection calls it
// once, so two connections never share sockets.
type TransportFactory func() http.RoundTripper

// DefaultTransportFactory returns HTTP/2-capable transports sized for a
// memory-constrained client. insecure disables certificate verification.
func DefaultTransportFactory(insecure bool) TransportFactory {
	return func() http.RoundTripper {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          2,
			MaxIdleConnsPerHost:   1,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: insecure, //nolint:gosec // opt-in via --insecure-tls
			},
		}
		// On failure the transport keeps speaking HTTP/1.1.
		_ = http2.ConfigureTransport(transport)
		return transport
	}
}
