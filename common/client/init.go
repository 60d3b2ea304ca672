// Package client builds the shared outbound HTTP clients.
package client

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/common/network"
)

// HTTPClient carries relay traffic to upstream providers. No client timeout
// applies when RELAY_TIMEOUT is zero; the per-attempt context bounds the
// exchange instead.
var HTTPClient *http.Client

// ImpatientHTTPClient serves short control exchanges, OAuth refreshes and
// health checks, where waiting out a relay timeout would stall scheduling.
var ImpatientHTTPClient *http.Client

// Init builds the shared clients from deployment config. HTTP/2 stays
// disabled: long-lived SSE relays over h2 streams misbehave behind some
// provider load balancers.
func Init() {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if config.BlockInternalEndpoints {
		dialer.Control = guardEgress
	}

	transport := &http.Transport{
		DialContext:  dialer.DialContext,
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	if config.RelayProxy != "" {
		proxyURL, err := url.Parse(config.RelayProxy)
		if err != nil {
			logger.Logger.Fatal("RELAY_PROXY set but invalid",
				zap.String("proxy", config.RelayProxy))
		}
		logger.Logger.Info("relaying through proxy", zap.String("proxy", config.RelayProxy))
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	HTTPClient = &http.Client{Transport: transport}
	if config.RelayTimeout > 0 {
		HTTPClient.Timeout = time.Duration(config.RelayTimeout) * time.Second
	}

	ImpatientHTTPClient = &http.Client{
		Timeout:   5 * time.Second,
		Transport: transport,
	}
}

// guardEgress rejects dials into private address space. The dialer hands us
// the already-resolved address, so hostname indirection cannot bypass it.
func guardEgress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return errors.Wrapf(err, "split host port %q", address)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return errors.Errorf("egress guard: not an IP literal: %s", host)
	}
	if network.IsInternalIP(ip) {
		return errors.Errorf("egress guard: internal address %s refused", ip)
	}
	return nil
}
