package startup

import (
	"context"
	"time"

	"github.com/chatcore/internal/logger"
	redisstorage "github.com/chatcore/internal/storage/redis"
)

// ConnectRelay подключает межпроцессную доставку через Redis с повторами.
func ConnectRelay(ctx context.Context, redisURL string, local redisstorage.Local, maxWait time.Duration) (*redisstorage.Relay, error) {
	relay, err := retry(ctx, time.Now().Add(maxWait), "redis", func() (*redisstorage.Relay, error) {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return redisstorage.New(cctx, redisURL, local)
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("redis relay connected")
	return relay, nil
}
