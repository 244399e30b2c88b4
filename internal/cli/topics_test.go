package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kemock/kem"
)

func TestTopicsText(t *testing.T) {
	out, _, err := execute(t, "topics", writeConfig(t, userConfig))
	require.NoError(t, err)
	assert.Equal(t, "users\n  <- seed\n  -> on-user launches [send-mail]\nmail\n  <- send-mail\n", out)
}

func TestTopicsJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "topics", writeConfig(t, userConfig))
	require.NoError(t, err)

	var routes []TopicRoute
	require.NoError(t, kem.Unmarshal([]byte(out), &routes))
	require.Len(t, routes, 2)
	assert.Equal(t, "users", routes[0].Topic)
	assert.Equal(t, []ConsumerRoute{{OperationID: "on-user", Launches: []string{"send-mail"}}}, routes[0].Consumers)
	assert.Equal(t, []string{"send-mail"}, routes[1].Producers)
	assert.Empty(t, routes[1].Consumers)
}

func TestTopicsInvalidConfig(t *testing.T) {
	_, _, err := execute(t, "topics", "does-not-exist.yaml")
	assert.Error(t, err)
}
