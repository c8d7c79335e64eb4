package redisconn

import "github.com/redis/go-redis/v9"

// stubClient is never dialed; unit tests only exercise decoding.
func stubClient() redis.Cmdable {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
}
