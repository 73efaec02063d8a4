package scheduler

import (
	"time"

	"github.com/pkg/errors"

	"github.com/chatmemory/engine/internal/extraction"
)

// computeBackoff hand-rolls exponential backoff rather than pulling in a
// backoff library: base * 2^(attempts-1), the same "no dependency, just the
// arithmetic" idiom the teacher corpus uses for its own retry loops
// (third_party/agentsdk-go/pkg/model/anthropic.go computes its delay the
// same way, from attempts rather than a library call).
func computeBackoff(base time.Duration, attempts int) time.Duration {
	if attempts <= 1 {
		return base
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// isRetryable classifies an extraction failure for the scheduler's retry
// decision. An unregistered handler is a configuration error, not a
// transient one: retrying it burns N_attempts and a TTL slot without any
// chance of success, so it fails the job immediately instead. Everything
// else (store I/O, LLM completion/embedding failures) is presumed
// transient and gets the backoff treatment.
func isRetryable(err error) bool {
	return !errors.Is(err, extraction.ErrUnknownHandler)
}
