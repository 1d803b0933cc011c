package vardiff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_FirstSubmitSkipsRetarget(t *testing.T) {
	var got []float64
	m := NewManager(Config{TargetTime: 15, VariancePercent: 30, RetargetTime: 90, MinDiff: 1, MaxDiff: 512}, func(id string, d float64) {
		got = append(got, d)
	})
	m.Submit("c1", time.Unix(1000, 0), 8)
	assert.Empty(t, got)
}

func TestManager_RetargetsUpOnFastSubmits(t *testing.T) {
	var got []float64
	cfg := Config{TargetTime: 15, VariancePercent: 30, RetargetTime: 90, MinDiff: 1, MaxDiff: 512}
	m := NewManager(cfg, func(id string, d float64) {
		got = append(got, d)
	})

	base := time.Unix(1000, 0)
	m.Submit("c1", base, 8)

	t1 := base
	for i := 1; i <= 12; i++ {
		t1 = t1.Add(5 * time.Second)
		m.Submit("c1", t1, 8)
	}

	assert.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.GreaterOrEqual(t, last, 1.0)
	assert.LessOrEqual(t, last, 512.0)
}

func TestManager_ClampsToMax(t *testing.T) {
	var got []float64
	cfg := Config{TargetTime: 15, VariancePercent: 5, RetargetTime: 30, MinDiff: 1, MaxDiff: 16, X2Mode: true}
	m := NewManager(cfg, func(id string, d float64) {
		got = append(got, d)
	})

	base := time.Unix(2000, 0)
	m.Submit("c1", base, 15)

	t1 := base
	for i := 1; i <= 20; i++ {
		t1 = t1.Add(1 * time.Second)
		m.Submit("c1", t1, 15)
	}

	if assert.NotEmpty(t, got) {
		assert.LessOrEqual(t, got[len(got)-1], 16.0)
	}
}

func TestManager_Forget(t *testing.T) {
	m := NewManager(Config{TargetTime: 15, RetargetTime: 90, MinDiff: 1, MaxDiff: 512}, nil)
	m.Submit("c1", time.Unix(1, 0), 8)
	m.Forget("c1")
	assert.Len(t, m.clients, 0)
}
