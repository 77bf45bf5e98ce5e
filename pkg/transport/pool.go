package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// DefaultName is the transport used when a caller has no dedicated configuration.
	DefaultName = "default"

	paramClientTimeout = "client-timeout"
	paramType          = "type"

	defaultClientTimeout = 10 * time.Second
	typeHttp             = "http"
	defaultType          = typeHttp
)

// Pool hands out named *http.Clients configured from the transport.<name>
// sub-tree of a viper.Viper.  Clients are created on first use and shared
// afterwards.
type Pool struct {
	config *viper.Viper
	logger logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewPool(logger logrus.FieldLogger, config *viper.Viper) *Pool {
	config.SetDefault("transport."+DefaultName, map[string]interface{}{})
	return &Pool{
		config:  config,
		logger:  logger.WithField("component", "transport"),
		clients: map[string]*http.Client{},
	}
}

// Get returns the client for name, creating it if required.  A name with no
// configuration falls back to transport.default.
func (p *Pool) Get(name string) (*http.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[name]; ok {
		return c, nil
	}
	c, err := p.newClient(name)
	if err != nil {
		return nil, err
	}
	p.clients[name] = c
	return c, nil
}

func (p *Pool) newClient(name string) (*http.Client, error) {
	sub := p.config.Sub("transport." + name)
	if sub == nil {
		p.logger.WithField("name", name).Warn("request for non-configured transport, using transport.default")
		sub = p.config.Sub("transport." + DefaultName)
		if sub == nil {
			sub = viper.New()
		}
	}

	sub.SetDefault(paramClientTimeout, defaultClientTimeout)
	sub.SetDefault(paramType, defaultType)

	clientTimeout := sub.GetDuration(paramClientTimeout)
	transportType := sub.GetString(paramType)

	if clientTimeout < 0 {
		return nil, errors.New(paramClientTimeout + " must not be negative") // 0 = no timeout
	}

	var rt http.RoundTripper
	var err error
	switch transportType {
	case typeHttp:
		rt, err = p.newHttpTransport(name, sub)
	default:
		err = errors.New(paramType + " must be http")
	}
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"name":             name,
		paramType:          transportType,
		paramClientTimeout: clientTimeout,
	}).Info("created client")

	return &http.Client{
		Transport: rt,
		Timeout:   clientTimeout,
	}, nil
}
