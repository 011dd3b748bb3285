package core

import "sync"

const AVG_COUNT uint8 = 30

// MetricsState tracks how long callers block on execution context fences
// and how many submissions reach the queues per second.
type MetricsState struct {
	mu sync.Mutex

	WaitAVGCounter      uint8
	MStimes             [AVG_COUNT]float64
	MSavg               float64
	Submissions         int32
	AccumulatedSubmitMS float64
	SubmitsPerSecond    float64
	TotalSubmissions    uint64
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	metrics()
	return nil
}

func metrics() *MetricsState {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{
			MStimes: [AVG_COUNT]float64{0},
		}
	})
	return metricsState
}

// MetricsRecordWait records the seconds spent waiting for a fence. The
// average is refreshed every AVG_COUNT samples.
func MetricsRecordWait(waitSeconds float64) {
	m := metrics()
	m.mu.Lock()
	defer m.mu.Unlock()

	waitMS := waitSeconds * 1000.0
	m.MStimes[m.WaitAVGCounter] = waitMS
	if m.WaitAVGCounter == AVG_COUNT-1 {
		m.MSavg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.MSavg += m.MStimes[i]
		}
		m.MSavg /= float64(AVG_COUNT)
	}
	m.WaitAVGCounter++
	m.WaitAVGCounter %= AVG_COUNT
}

// MetricsRecordSubmit counts one submission. elapsedSeconds is the time
// since the previous submission.
func MetricsRecordSubmit(elapsedSeconds float64) {
	m := metrics()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Submissions++
	m.TotalSubmissions++

	m.AccumulatedSubmitMS += elapsedSeconds * 1000.0
	if m.AccumulatedSubmitMS > 1000 {
		m.SubmitsPerSecond = float64(m.Submissions)
		m.AccumulatedSubmitMS -= 1000
		m.Submissions = 0
	}
}

func MetricsWaitTime() float64 {
	m := metrics()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MSavg
}

func MetricsSubmitRate() float64 {
	m := metrics()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SubmitsPerSecond
}

func MetricsSnapshot() (submitRate float64, waitMS float64, total uint64) {
	m := metrics()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SubmitsPerSecond, m.MSavg, m.TotalSubmissions
}
