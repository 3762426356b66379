package metadatasource

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberDeliversDecodedMessage(t *testing.T) {
	var handler func(data []byte)
	sub, err := NewSubscriber(func(h func(data []byte)) error {
		handler = h
		return nil
	})
	require.NoError(t, err)

	raw, _ := json.Marshal(TosMetadata{ScanID: 7})
	handler(raw)

	m, ok := sub.Next(context.Background(), 1_000_000)
	require.True(t, ok)
	assert.Equal(t, 7, m.ScanID)
}

func TestSubscriberTimesOutWithoutMessage(t *testing.T) {
	sub, err := NewSubscriber(func(h func(data []byte)) error { return nil })
	require.NoError(t, err)

	_, ok := sub.Next(context.Background(), 1000)
	assert.False(t, ok)
}

func TestSubscriberPropagatesSubscribeError(t *testing.T) {
	_, err := NewSubscriber(func(h func(data []byte)) error { return errors.New("subscribe failed") })
	assert.Error(t, err)
}

func TestSubscriberIgnoresMalformedPayload(t *testing.T) {
	var handler func(data []byte)
	sub, err := NewSubscriber(func(h func(data []byte)) error {
		handler = h
		return nil
	})
	require.NoError(t, err)

	handler([]byte("not json"))
	_, ok := sub.Next(context.Background(), 1000)
	assert.False(t, ok)
}
