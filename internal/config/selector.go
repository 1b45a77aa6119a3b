package config

import (
	"errors"

	"github.com/zeebo/xxh3"
)

// ErrNoServers is returned by SelectServer when no server is configured
var ErrNoServers = errors.New("config: no servers configured")

// SelectServer picks the server responsible for key. The same key maps to the
// same server while the list is unchanged, and growing the list moves only
// the keys that land on the new server. An empty key picks the first server.
func (c *Config) SelectServer(key string) (string, error) {
	n := len(c.Servers)
	if n == 0 {
		return "", ErrNoServers
	}
	if key == "" || n == 1 {
		return NormalizeAddr(c.Servers[0]), nil
	}
	return NormalizeAddr(c.Servers[jumpHash(xxh3.HashString(key), n)]), nil
}

// jumpHash is Google's "Jump" consistent hash: https://arxiv.org/abs/1406.2294
func jumpHash(key uint64, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}

	var b int64 = -1
	var j int64

	for j < int64(numBuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}

	return int(b)
}
