package sink

import (
	"strings"
)

// DefaultKeyPrefix namespaces all Redis keys written by RedisSink.
const DefaultKeyPrefix = "narrative"

// RunKey identifies the Redis keys that belong to one pipeline run.
type RunKey struct {
	// Prefix namespaces the keys (default "narrative")
	Prefix string

	// RunID is the pipeline run id
	RunID string
}

// Records returns the list key holding the run's records.
// Format: prefix:run:<run_id>:records
func (k RunKey) Records() string {
	return strings.Join([]string{k.prefix(), "run", k.RunID, "records"}, ":")
}

// Runs returns the list key indexing all run ids, newest first.
func (k RunKey) Runs() string {
	return k.prefix() + ":runs"
}

func (k RunKey) prefix() string {
	p := strings.Trim(k.Prefix, ":")
	if p == "" {
		return DefaultKeyPrefix
	}
	return p
}
