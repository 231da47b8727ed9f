// Package kvtest starts an in-process Redis for tests.
package kvtest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// New returns a miniredis server and a client connected to it. Both are
// closed when the test ends.
func New(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:     srv.Addr(),
		PoolSize: 32,
	})
	t.Cleanup(func() { client.Close() })
	return srv, client
}
