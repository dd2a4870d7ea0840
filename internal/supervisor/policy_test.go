package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyDecide(t *testing.T) {
	p := Policy{MaxAttempts: 3, Delay: 5 * time.Second, StabilityWindow: 2 * time.Minute}

	tests := []struct {
		name   string
		count  int
		giveUp bool
	}{
		{"first failure retries", 1, false},
		{"second failure retries", 2, false},
		{"third failure gives up", 3, true},
		{"beyond budget gives up", 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(&WorkerRecord{RestartCount: tt.count})
			assert.Equal(t, tt.giveUp, d.GiveUp)
			if !d.GiveUp {
				assert.Equal(t, p.Delay, d.Delay)
			}
		})
	}
}

func TestForgiveIfStable(t *testing.T) {
	now := time.Now()
	window := 2 * time.Minute

	rec := &WorkerRecord{RestartCount: 2, RunningSince: now.Add(-3 * time.Minute)}
	rec.forgiveIfStable(now, window)
	assert.Equal(t, 0, rec.RestartCount)

	rec = &WorkerRecord{RestartCount: 2, RunningSince: now.Add(-time.Minute)}
	rec.forgiveIfStable(now, window)
	assert.Equal(t, 2, rec.RestartCount)

	// Never Running this generation: nothing to forgive.
	rec = &WorkerRecord{RestartCount: 2}
	rec.forgiveIfStable(now, window)
	assert.Equal(t, 2, rec.RestartCount)
}
