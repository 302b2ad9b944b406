package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
)

type Uploader interface {
	Name() string
	Upload(ctx context.Context, c *Checkpoint) error
}

// Reporter uploads each checkpoint with every uploader and keeps the
// history of outcomes.
type Reporter struct {
	uploaders []Uploader
	timeout   time.Duration

	mu      sync.Mutex
	history UploadHistory
}

func NewReporter(timeout time.Duration, uploaders ...Uploader) *Reporter {
	return &Reporter{uploaders: uploaders, timeout: timeout, history: make(UploadHistory)}
}

// Report uploads c and returns the number of successful uploads.
func (r *Reporter) Report(ctx context.Context, c *Checkpoint) int {
	height, err := c.BlockHeight()
	if err != nil {
		logs.Errorf("Failed to convert checkpoint height due to %v", err)
		return 0
	}
	ok := 0
	for _, u := range r.uploaders {
		uctx := ctx
		var cancel context.CancelFunc = func() {}
		if r.timeout > 0 {
			uctx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		err := u.Upload(uctx, c)
		cancel()
		if err != nil {
			logs.Errorf("Failed to upload checkpoint at height %d by %s due to %v", height, u.Name(), err)
		} else {
			logs.Infof("Checkpoint at height %d uploaded by %s", height, u.Name())
			ok++
		}
		r.record(height, u.Name(), err == nil)
	}
	return ok
}

func (r *Reporter) record(height uint, name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.history[height]; !ok {
		r.history[height] = make(map[string]UploadRecord)
	}
	r.history[height][name] = UploadRecord{Success: success}
}

// History returns a copy of the outcomes at height.
func (r *Reporter) History(height uint) map[string]UploadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]UploadRecord, len(r.history[height]))
	for k, v := range r.history[height] {
		out[k] = v
	}
	return out
}
