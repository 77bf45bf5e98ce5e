package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/net/http2"
)

const (
	paramDialerKeepAlive       = "dialer-keep-alive"
	paramDialerTimeout         = "dialer-timeout"
	paramEnableHttp2           = "enable-http2"
	paramIdleConnectionTimeout = "idle-connection-timeout"
	paramMaxIdleConnections    = "max-idle-connections"
	paramNetwork               = "network"
	paramTLSHandshakeTimeout   = "tls-handshake-timeout"
	paramResponseHeaderTimeout = "response-header-timeout"

	defaultDialerKeepAlive       = 30 * time.Second
	defaultDialerTimeout         = 5 * time.Second
	defaultEnableHttp2           = false
	defaultIdleConnectionTimeout = 1 * time.Minute
	defaultMaxIdleConnections    = 10
	defaultNetwork               = "tcp"
	defaultTLSHandshakeTimeout   = 3 * time.Second
	defaultResponseHeaderTimeout = time.Duration(0)
)

func (p *Pool) newHttpTransport(name string, v *viper.Viper) (*http.Transport, error) {
	v.SetDefault(paramDialerKeepAlive, defaultDialerKeepAlive)
	v.SetDefault(paramDialerTimeout, defaultDialerTimeout)
	v.SetDefault(paramEnableHttp2, defaultEnableHttp2)
	v.SetDefault(paramIdleConnectionTimeout, defaultIdleConnectionTimeout)
	v.SetDefault(paramMaxIdleConnections, defaultMaxIdleConnections)
	v.SetDefault(paramNetwork, defaultNetwork)
	v.SetDefault(paramTLSHandshakeTimeout, defaultTLSHandshakeTimeout)
	v.SetDefault(paramResponseHeaderTimeout, defaultResponseHeaderTimeout)

	keepAlive := v.GetDuration(paramDialerKeepAlive)
	dialTimeout := v.GetDuration(paramDialerTimeout)
	enableHttp2 := v.GetBool(paramEnableHttp2)
	idleTimeout := v.GetDuration(paramIdleConnectionTimeout)
	maxIdle := v.GetInt(paramMaxIdleConnections)
	network := v.GetString(paramNetwork)
	tlsTimeout := v.GetDuration(paramTLSHandshakeTimeout)
	headerTimeout := v.GetDuration(paramResponseHeaderTimeout)

	// -1 disables keepalives, 0 enables them with the OS default interval.
	if keepAlive < -1 {
		return nil, errors.New(paramDialerKeepAlive + " must be -1, 0, or positive")
	}
	for param, d := range map[string]time.Duration{
		paramDialerTimeout:         dialTimeout,
		paramIdleConnectionTimeout: idleTimeout,
		paramTLSHandshakeTimeout:   tlsTimeout,
		paramResponseHeaderTimeout: headerTimeout,
	} {
		if d < 0 {
			return nil, errors.New(param + " must not be negative") // 0 = no timeout
		}
	}
	if maxIdle < 0 {
		return nil, errors.New(paramMaxIdleConnections + " must not be negative") // 0 = no limit
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: tlsTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: func(ctx context.Context, _, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		},
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdle,
		IdleConnTimeout:       idleTimeout,
		ResponseHeaderTimeout: headerTimeout,
	}

	if enableHttp2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configuring http2 for transport %q: %w", name, err)
		}
	} else {
		// A non-nil empty map disables the client's built-in HTTP/2 upgrade.
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	p.logger.WithFields(logrus.Fields{
		"name":                     name,
		paramDialerKeepAlive:       keepAlive,
		paramDialerTimeout:         dialTimeout,
		paramEnableHttp2:           enableHttp2,
		paramIdleConnectionTimeout: idleTimeout,
		paramMaxIdleConnections:    maxIdle,
		paramNetwork:               network,
		paramTLSHandshakeTimeout:   tlsTimeout,
	}).Debug("created transport")

	return transport, nil
}
