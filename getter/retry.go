package getter

import (
	"time"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
)

var (
	maxRetries    = 5
	retryInterval = time.Second
)

func withRetries[T any](what string, fn func() (T, error)) (T, error) {
	var res T
	var err error
	for i := 0; i < maxRetries; i++ {
		res, err = fn()
		if err == nil {
			return res, nil
		}
		logs.Warnf("Retrying to get %s, attempt %d of %d, due to %v", what, i+1, maxRetries, err)
		time.Sleep(retryInterval)
	}
	return res, err
}
