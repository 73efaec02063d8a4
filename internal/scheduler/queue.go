package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dedup configures the at-most-one-non-terminal-job-per-key guarantee for
// one Add call, mirroring the wire contract a real broker (Redis, SQS,
// etc.) would expose: an id, a TTL after which the key self-expires, and
// whether a new Add should extend the TTL or replace the job outright.
type Dedup struct {
	ID      string
	TTL     time.Duration
	Extend  bool
	Replace bool
}

// AddOptions configures one QueueBackend.Add call.
type AddOptions struct {
	JobID string
	Delay time.Duration
	Dedup *Dedup
}

// JobRecord is what Get/Subscribe hand back: enough to drive the per-user
// state machine without the backend needing to know about extraction at
// all.
type JobRecord struct {
	JobID      string
	Name       string
	Payload    string
	EnqueuedAt time.Time
	FireAt     time.Time
}

// QueueBackend is the collaborator contract spec.md §6 names: add a job
// with an optional dedup key and delay, fetch one by id, drop a dedup key
// early, and subscribe workers to a job name. A Redis-backed implementation
// using native dedup + replace:true can satisfy this interface unchanged;
// Scheduler ships with the in-process implementation below because the
// spec prescribes no concrete transport.
type QueueBackend interface {
	Add(jobName, payload string, opts AddOptions) (jobID string, err error)
	Get(jobID string) (*JobRecord, error)
	RemoveDedupKey(id string) error
	Subscribe(jobName string) (<-chan JobRecord, error)
}

// inProcessQueue is the default QueueBackend: an in-memory map guarded by a
// mutex, with delivery via time.AfterFunc and delivery-channel fan-out per
// job name. Dedup here is "manual remove-and-re-add": Scheduler never calls
// Add twice for the same still-pending job; it calls RemoveDedupKey and then
// Add again, which is equivalent under the spec's debounce law to a native
// dedup-with-replace primitive.
type inProcessQueue struct {
	mu       sync.Mutex
	byID     map[string]*JobRecord
	dedup    map[string]string // dedup id -> job id
	channels map[string]chan JobRecord
}

func newInProcessQueue() *inProcessQueue {
	return &inProcessQueue{
		byID:     make(map[string]*JobRecord),
		dedup:    make(map[string]string),
		channels: make(map[string]chan JobRecord),
	}
}

func (q *inProcessQueue) Add(jobName, payload string, opts AddOptions) (string, error) {
	q.mu.Lock()
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	rec := &JobRecord{JobID: jobID, Name: jobName, Payload: payload, EnqueuedAt: time.Now(), FireAt: time.Now().Add(opts.Delay)}
	q.byID[jobID] = rec
	if opts.Dedup != nil {
		q.dedup[opts.Dedup.ID] = jobID
	}
	ch, ok := q.channels[jobName]
	if !ok {
		ch = make(chan JobRecord, 64)
		q.channels[jobName] = ch
	}
	q.mu.Unlock()

	if opts.Delay <= 0 {
		ch <- *rec
		return jobID, nil
	}

	time.AfterFunc(opts.Delay, func() {
		q.mu.Lock()
		_, stillPending := q.byID[jobID]
		q.mu.Unlock()
		if stillPending {
			ch <- *rec
		}
	})
	return jobID, nil
}

func (q *inProcessQueue) Get(jobID string) (*JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.byID[jobID]
	if !ok {
		return nil, fmt.Errorf("scheduler: no job with id %q", jobID)
	}
	copied := *rec
	return &copied, nil
}

func (q *inProcessQueue) RemoveDedupKey(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.dedup, id)
	return nil
}

func (q *inProcessQueue) Subscribe(jobName string) (<-chan JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.channels[jobName]
	if !ok {
		ch = make(chan JobRecord, 64)
		q.channels[jobName] = ch
	}
	return ch, nil
}

var _ QueueBackend = (*inProcessQueue)(nil)
