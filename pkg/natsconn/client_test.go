package natsconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestDialFailsFastOnUnreachableAddress(t *testing.T) {
	_, err := Dial(Config{Address: "nats://127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to")
}
