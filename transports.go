package carotene

import (
	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/connection/eventsource"
	"github.com/carotene/carotene.go/pkg/connection/gorillaws"
	"github.com/carotene/carotene.go/pkg/connection/gws"
	"github.com/carotene/carotene.go/pkg/connection/polling"
)

// transports returns the transport preference list: WebSocket, event stream, polling.
// Disabled transports stay in the list and decline when probed.
func (c *Config) transports() ([]connection.Descriptor, error) {
	if len(c.Transports) > 0 {
		return c.Transports, nil
	}

	cc, err := c.connectionConfig()
	if err != nil {
		return nil, err
	}

	var ws connection.Descriptor
	switch c.WebSocketEngine {
	case EngineGWS:
		ws = gws.Descriptor(cc)
	default:
		ws = gorillaws.Descriptor(cc)
	}

	return []connection.Descriptor{
		ws,
		eventsource.Descriptor(cc),
		polling.Descriptor(cc),
	}, nil
}
