package transport

import (
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpTransportRanges(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		param string
		value interface{}
		valid bool
	}{
		{paramDialerKeepAlive, -1 * time.Second, false},
		{paramDialerKeepAlive, -1 * time.Nanosecond, true},
		{paramDialerKeepAlive, 0 * time.Second, true},
		{paramDialerTimeout, -1 * time.Second, false},
		{paramDialerTimeout, 1 * time.Second, true},
		{paramIdleConnectionTimeout, -1 * time.Second, false},
		{paramIdleConnectionTimeout, 0 * time.Second, true},
		{paramMaxIdleConnections, -1, false},
		{paramMaxIdleConnections, 0, true},
		{paramTLSHandshakeTimeout, -1 * time.Second, false},
		{paramTLSHandshakeTimeout, 1 * time.Second, true},
		{paramResponseHeaderTimeout, -1 * time.Second, false},
		{paramResponseHeaderTimeout, 2 * time.Second, true},
		{paramEnableHttp2, true, true},
		{paramEnableHttp2, false, true},
	} {
		v := viper.New()
		v.Set("transport.test."+tc.param, tc.value)
		p := NewPool(logrus.New(), v)
		c, err := p.Get("test")
		if tc.valid {
			require.NoError(t, err, "param: %s, value: %#v", tc.param, tc.value)
			require.NotNil(t, c, "param: %s, value: %#v", tc.param, tc.value)
		} else {
			require.Error(t, err, "param: %s, value: %#v", tc.param, tc.value)
			require.Nil(t, c, "param: %s, value: %#v", tc.param, tc.value)
		}
	}
}

func TestHttp2Toggle(t *testing.T) {
	t.Parallel()
	v := viper.New()
	v.Set("transport.h1.enable-http2", false)
	v.Set("transport.h2.enable-http2", true)
	p := NewPool(logrus.New(), v)

	c, err := p.Get("h1")
	require.NoError(t, err)
	h1 := c.Transport.(*http.Transport)
	assert.NotNil(t, h1.TLSNextProto)
	assert.Empty(t, h1.TLSNextProto)

	c, err = p.Get("h2")
	require.NoError(t, err)
	h2 := c.Transport.(*http.Transport)
	assert.Contains(t, h2.TLSNextProto, "h2")
}
