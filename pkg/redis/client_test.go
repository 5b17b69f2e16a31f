package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_FromHostPort(t *testing.T) {
	opts, err := options(Config{Host: "cache", Port: 6380, Password: "pw", DB: 2})
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestOptions_URLWins(t *testing.T) {
	opts, err := options(Config{URL: "redis://:secret@redis.internal:6379/3", Host: "ignored", Port: 1})
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
}

func TestOptions_InvalidURL(t *testing.T) {
	_, err := options(Config{URL: "http://not-redis"})
	assert.Error(t, err)
}
