package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kemock/kem/transport"
)

func TestBuiltinTransportsRegistered(t *testing.T) {
	for _, name := range []string{"aws", "channel", "gochannel", "http", "kafka", "nats", "rabbitmq"} {
		assert.True(t, transport.DefaultRegistry.Has(name), name)
	}
}
