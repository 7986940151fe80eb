package syncqueue

import "context"

// Status reports connectivity.
type Status interface {
	Online() bool
}

// Recorder queues a change only while offline.
type Recorder struct {
	queue  *Queue
	status Status
}

func NewRecorder(queue *Queue, status Status) *Recorder {
	return &Recorder{queue: queue, status: status}
}

// Record is called after every successful mutation.
func (r *Recorder) Record(ctx context.Context, action, collection string, payload any) {
	if r == nil || r.status.Online() {
		return
	}
	r.queue.QueueChange(ctx, action, collection, payload)
}
