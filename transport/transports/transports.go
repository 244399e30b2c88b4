// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/kemock/kem/transport/aws"
	_ "github.com/kemock/kem/transport/channel"
	_ "github.com/kemock/kem/transport/http"
	_ "github.com/kemock/kem/transport/kafka"
	_ "github.com/kemock/kem/transport/nats"
	_ "github.com/kemock/kem/transport/rabbitmq"
)
