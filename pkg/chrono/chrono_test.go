package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimer_AccumulatesAcrossCalls(t *testing.T) {
	timer := New("tracking")

	timer.Start()
	time.Sleep(time.Millisecond)
	first := timer.Stop()

	timer.Start()
	time.Sleep(time.Millisecond)
	timer.Stop()

	assert.Equal(t, 2, timer.Calls)
	assert.GreaterOrEqual(t, timer.Total, first)
	assert.Greater(t, timer.Mean(), time.Duration(0))
}

func TestTimer_MeanZeroWhenUnused(t *testing.T) {
	assert.Equal(t, time.Duration(0), New("idle").Mean())
}

func TestBank_GetReturnsSameTimerAndEachVisitsInOrder(t *testing.T) {
	bank := NewBank()

	a := bank.Get("pose_optimization")
	b := bank.Get("point_recovery")
	assert.Same(t, a, bank.Get("pose_optimization"))

	var names []string
	bank.Each(func(timer *Timer) { names = append(names, timer.Name()) })
	assert.Equal(t, []string{"pose_optimization", "point_recovery"}, names)
	_ = b
}
