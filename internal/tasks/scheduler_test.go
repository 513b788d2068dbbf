package tasks

import (
	"testing"

	"github.com/hibiken/asynq"
)

func TestScheduleOptionsGuardOverlap(t *testing.T) {
	for _, spec := range Catalog() {
		opts := map[asynq.OptionType]asynq.Option{}
		for _, o := range scheduleOptions(spec) {
			opts[o.Type()] = o
		}

		if o, ok := opts[asynq.MaxRetryOpt]; !ok || o.Value() != spec.MaxRetry {
			t.Errorf("%s: MaxRetry option = %v, want %d", spec.Name, o, spec.MaxRetry)
		}
		if o, ok := opts[asynq.TimeoutOpt]; !ok || o.Value() != spec.Timeout {
			t.Errorf("%s: Timeout option = %v, want %v", spec.Name, o, spec.Timeout)
		}
		// A still-running task must swallow the next cron tick instead of
		// stacking a duplicate behind it.
		if o, ok := opts[asynq.UniqueOpt]; !ok || o.Value() != spec.Timeout {
			t.Errorf("%s: Unique option = %v, want TTL %v", spec.Name, o, spec.Timeout)
		}
	}
}
