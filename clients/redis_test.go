package clients

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/contentsquare/webfetch/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := NewRedisClient(config.RedisIndexConfig{
		Addresses: []string{s.Addr()},
	})
	require.NoError(t, err)
	defer c.Close()
}

func TestNewRedisClientUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	_, err := NewRedisClient(config.RedisIndexConfig{
		Addresses: []string{addr},
	})
	assert.Error(t, err)
}
