package reporters

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/ddmetrics/pkg/transport"
	"github.com/atlassian/ddmetrics/pkg/util"
)

const (
	ParamAPIKey          = "api-key"
	ParamSite            = "site"
	ParamAPIHost         = "api-host"
	ParamAPIEndpoint     = "api-endpoint"
	ParamCompressPayload = "compress-payload"
	ParamUserAgent       = "user-agent"
	ParamTransport       = "transport"

	defaultCompressPayload = false
)

// NewDatadogReporterFromViper builds a DatadogReporter from the top level
// api-key, site, api-host and retry settings, and the datadog sub tree.
func NewDatadogReporterFromViper(logger logrus.FieldLogger, v *viper.Viper, pool *transport.Pool) (*DatadogReporter, error) {
	newBackOff, err := util.GetRetryFromViper(v)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", ReporterName, err)
	}

	dd := util.GetSubViper(v, ReporterName)
	dd.SetDefault(ParamAPIEndpoint, "")
	dd.SetDefault(ParamCompressPayload, defaultCompressPayload)
	dd.SetDefault(ParamUserAgent, DefaultUserAgent)
	dd.SetDefault(ParamTransport, transport.DefaultName)

	client, err := pool.Get(dd.GetString(ParamTransport))
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", ReporterName, err)
	}

	return NewDatadogReporter(DatadogOptions{
		APIKey:          v.GetString(ParamAPIKey),
		Site:            v.GetString(ParamSite),
		APIHost:         v.GetString(ParamAPIHost),
		APIEndpoint:     dd.GetString(ParamAPIEndpoint),
		UserAgent:       dd.GetString(ParamUserAgent),
		CompressPayload: dd.GetBool(ParamCompressPayload),
		NewBackOff:      newBackOff,
		Client:          client,
		Logger:          logger,
	})
}
