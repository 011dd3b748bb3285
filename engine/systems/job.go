package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vkexec/engine/core"
)

// JobTask is one unit of work run by a JobSystem worker.
type JobTask struct {
	Name string
	// Run receives the index of the worker running it.
	Run        func(worker int) error
	OnFailure  func(err error)
	OnComplete func()
	// OnCompletionCallback runs after OnFailure or OnComplete.
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, fmt.Errorf("attempting to create worker pool with %d workers: %w", numWorkers, core.ErrNoWorkers)
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func(worker int) {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(worker, job)
			}
		}(i)
	}
}

func (js *JobSystem) run(worker int, job JobTask) {
	if err := job.Run(worker); err != nil {
		core.LogError("job %q failed on worker %d: %s", job.Name, worker, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	} else if job.OnComplete != nil {
		job.OnComplete()
	}

	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

// Shutdown stops accepting jobs and waits for the queued ones to finish.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

// Submit queues the job, blocking while the queue is full.
func (js *JobSystem) Submit(jt JobTask) error {
	js.mu.RLock()
	defer js.mu.RUnlock()

	if js.closed {
		return core.ErrShutdown
	}
	js.jobQueue <- jt
	return nil
}

// RunAll submits every task and waits until all of them have finished. It
// returns the first error reported by a task.
func (js *JobSystem) RunAll(tasks []JobTask) error {
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for _, t := range tasks {
		t := t
		wg.Add(1)
		onFailure := t.OnFailure
		t.OnFailure = func(err error) {
			errMu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			errMu.Unlock()
			if onFailure != nil {
				onFailure(err)
			}
		}
		done := t.OnCompletionCallback
		t.OnCompletionCallback = func() {
			if done != nil {
				done()
			}
			wg.Done()
		}
		if err := js.Submit(t); err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return firstErr
}
