package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/vkexec/engine/config"
	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/platform"
	"github.com/spaghettifunk/vkexec/engine/systems"
	"github.com/spaghettifunk/vkexec/engine/vulkan"
	"github.com/spaghettifunk/vkexec/engine/vulkan/loader"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// ErrMismatch is returned when a read back buffer does not hold the
// pattern the GPU was asked to write.
var ErrMismatch = errors.New("readback mismatch")

// RoundStats describes one completed workload round.
type RoundStats struct {
	Round       int
	Submissions int
	Bytes       uint64
	// GPUTime is the sum of the timestamp deltas of every submission. It
	// stays zero when timestamps are disabled or not available.
	GPUTime  time.Duration
	WallTime time.Duration
	// Metrics snapshot taken at the end of the round.
	SubmitsPerSecond float64
	WaitMS           float64
}

type Option func(*Engine)

// WithDevice skips the platform loader and builds the execution context
// from info. Used to run the engine on any vkapi.Driver.
func WithDevice(info vulkan.VulkanContextCreateInfo) Option {
	return func(e *Engine) {
		e.deviceInfo = &info
	}
}

// WithConfigFile reloads the configuration between rounds whenever path
// changes on disk.
func WithConfigFile(path string) Option {
	return func(e *Engine) {
		e.configPath = path
	}
}

// Engine runs a transfer workload through an execution pool: every round
// fills device local buffers, copies them into host visible ones and
// checks what comes back.
type Engine struct {
	currentStage Stage
	cfg          *config.Config
	configPath   string

	platform   *platform.Platform
	device     *loader.Device
	deviceInfo *vulkan.VulkanContextCreateInfo

	context  *vulkan.VulkanContext
	pool     *vulkan.VulkanExecPool
	scratch  *vulkan.BufferPool
	readback *vulkan.BufferPool
	jobs     *systems.JobSystem
	watcher  *config.Watcher
	clock    *core.Clock

	mu      sync.Mutex
	next    *config.Config
	stats   []RoundStats
	stop    chan struct{}
	runDone chan struct{}
	closed  bool
}

func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		currentStage: EngineStageUninitialized,
		cfg:          cfg,
		clock:        core.NewClock(),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) setStage(s Stage) {
	e.mu.Lock()
	e.currentStage = s
	e.mu.Unlock()
}

func (e *Engine) Initialize() error {
	e.setStage(EngineStageInitializing)

	core.SetLogLevel(e.cfg.Log.Level)
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	info, err := e.openDevice()
	if err != nil {
		return err
	}

	ctx, err := vulkan.NewVulkanContext(info)
	if err != nil {
		return err
	}
	e.context = ctx

	if err := e.createPool(e.cfg); err != nil {
		return err
	}

	e.scratch = vulkan.NewBufferPool(ctx,
		vkapi.BufferUsageTransferSrc|vkapi.BufferUsageTransferDst,
		vkapi.MemoryPropertyDeviceLocal, e.cfg.Exec.Contexts)
	e.readback = vulkan.NewBufferPool(ctx, vkapi.BufferUsageTransferDst,
		readbackMemory(ctx.MemoryProperties), e.cfg.Exec.Contexts)

	jobs, err := systems.NewJobSystem(e.cfg.Workload.Workers, e.cfg.Exec.Contexts)
	if err != nil {
		return err
	}
	e.jobs = jobs

	if e.configPath != "" {
		w, err := config.Watch(e.configPath, e.onConfigChange)
		if err != nil {
			core.LogWarn("not watching %s: %s", e.configPath, err)
		} else {
			e.watcher = w
		}
	}

	e.setStage(EngineStageInitialized)
	core.LogInfo("engine initialized on '%s' (%s queue, %d contexts)",
		ctx.Properties.DeviceName, e.cfg.Exec.Queue, e.pool.Size())
	return nil
}

func (e *Engine) openDevice() (vulkan.VulkanContextCreateInfo, error) {
	if e.deviceInfo != nil {
		return *e.deviceInfo, nil
	}

	e.platform = platform.New()
	if err := e.platform.Startup(); err != nil {
		return vulkan.VulkanContextCreateInfo{}, err
	}

	dev, err := loader.Open(loader.Options{
		AppName:    "vkexec",
		DeviceName: e.cfg.Device.Name,
		Validation: e.cfg.Device.Validation,
		ProcAddr:   e.platform.InstanceProcAddr(),
	})
	if err != nil {
		return vulkan.VulkanContextCreateInfo{}, err
	}
	e.device = dev
	return dev.ContextCreateInfo(), nil
}

// readbackMemory prefers cached host memory for reading results back,
// falling back to coherent memory.
func readbackMemory(props vkapi.MemoryProperties) vkapi.MemoryPropertyFlags {
	cached := vkapi.MemoryPropertyHostVisible | vkapi.MemoryPropertyHostCached
	if _, err := vulkan.SelectMemoryType(props, ^uint32(0), cached); err == nil {
		return cached
	}
	return vkapi.MemoryPropertyHostVisible | vkapi.MemoryPropertyHostCoherent
}

func (e *Engine) createPool(cfg *config.Config) error {
	purpose := cfg.QueuePurpose()
	if purpose == vkapi.QueueVideoDecode || purpose == vkapi.QueueVideoEncode {
		return fmt.Errorf("%s queues cannot run transfer work: %w", cfg.Exec.Queue, core.ErrInvalidArgument)
	}
	if !e.context.HasQueueFamily(purpose) {
		return fmt.Errorf("device has no %s queue family: %w", cfg.Exec.Queue, core.ErrInvalidArgument)
	}

	poolCfg := vulkan.ExecPoolConfig{Contexts: cfg.Exec.Contexts}
	if cfg.Exec.Timestamps {
		poolCfg.QueriesPerContext = 2
		poolCfg.QueryType = vkapi.QueryTypeTimestamp
		poolCfg.Query64Bit = true
	}

	pool, err := vulkan.NewExecPool(e.context, e.context.NewQueueFamilyCtx(purpose), poolCfg)
	if err != nil {
		return err
	}
	e.pool = pool
	return nil
}

func (e *Engine) onConfigChange(cfg *config.Config) {
	e.mu.Lock()
	e.next = cfg
	e.mu.Unlock()
}

// applyPending switches to a configuration received from the watcher.
// It only runs between rounds, when no context is in flight.
func (e *Engine) applyPending() error {
	e.mu.Lock()
	next := e.next
	e.next = nil
	e.mu.Unlock()

	if next == nil {
		return nil
	}
	if next.Device != e.cfg.Device {
		core.LogWarn("device settings changed, restart to apply them")
	}
	core.SetLogLevel(next.Log.Level)

	if e.cfg.PoolChanged(next) {
		old := e.pool
		if err := e.createPool(next); err != nil {
			core.LogError("keeping the current execution pool: %s", err)
			next.Exec = e.cfg.Exec
		} else {
			old.Free()
			core.LogInfo("execution pool recreated (%s queue, %d contexts)", next.Exec.Queue, next.Exec.Contexts)
		}
	}

	if next.Workload.Workers != e.cfg.Workload.Workers || next.Exec.Contexts != e.cfg.Exec.Contexts {
		jobs, err := systems.NewJobSystem(next.Workload.Workers, next.Exec.Contexts)
		if err != nil {
			core.LogError("keeping the current job system: %s", err)
			next.Workload.Workers = e.cfg.Workload.Workers
		} else {
			_ = e.jobs.Shutdown()
			e.jobs = jobs
		}
	}

	e.cfg = next
	return nil
}

// Run executes workload rounds until the configured number of rounds is
// reached, ctx is cancelled or Shutdown is called.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.closed || e.currentStage != EngineStageInitialized {
		e.mu.Unlock()
		return fmt.Errorf("engine is not initialized: %w", core.ErrInvalidArgument)
	}
	e.currentStage = EngineStageRunning
	e.runDone = make(chan struct{})
	done := e.runDone
	e.mu.Unlock()
	defer close(done)

	e.clock.Start()
	for round := 0; ; round++ {
		if err := e.applyPending(); err != nil {
			return err
		}
		if e.cfg.Workload.Rounds > 0 && round >= e.cfg.Workload.Rounds {
			break
		}

		stats, err := e.runRound(round)
		if err != nil {
			return err
		}
		e.clock.Update()
		core.LogInfo("round %d: %d submissions, %d bytes, gpu %s, wall %s, %.1f submits/s, wait %.3f ms",
			stats.Round, stats.Submissions, stats.Bytes, stats.GPUTime, stats.WallTime,
			stats.SubmitsPerSecond, stats.WaitMS)

		e.mu.Lock()
		e.stats = append(e.stats, stats)
		e.mu.Unlock()

		interval := time.Duration(e.cfg.Workload.IntervalMS) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil
		case <-e.stop:
			return nil
		case <-time.After(interval):
		}
	}
	core.LogInfo("workload finished after %.3fs", e.clock.Elapsed())
	return nil
}

// submission is what a worker hands back for verification.
type submission struct {
	exec     *vulkan.VulkanExecContext
	readback *vulkan.BufferRef
	pattern  uint32
}

func pattern(round, index int) uint32 {
	return 0xA5000000 | uint32(round&0xfff)<<12 | uint32(index&0xfff)
}

func (e *Engine) runRound(round int) (RoundStats, error) {
	start := time.Now()
	size := e.cfg.Workload.BufferSize
	n := e.pool.Size()

	subs := make([]submission, n)
	tasks := make([]systems.JobTask, n)
	for i := range tasks {
		i := i
		tasks[i] = systems.JobTask{
			Name: fmt.Sprintf("round-%d-%d", round, i),
			Run: func(worker int) error {
				sub, err := e.record(size, pattern(round, i))
				if err != nil {
					return err
				}
				subs[i] = sub
				return nil
			},
		}
	}

	runErr := e.jobs.RunAll(tasks)

	stats := RoundStats{Round: round}
	var verifyErr error
	for _, sub := range subs {
		if sub.exec == nil {
			continue
		}
		sub.exec.Wait()
		stats.Submissions++
		stats.Bytes += size
		stats.GPUTime += e.gpuTime(sub.exec)

		if err := e.verify(sub, size); err != nil && verifyErr == nil {
			verifyErr = err
		}
		sub.readback.Unref()
	}

	stats.WallTime = time.Since(start)
	stats.SubmitsPerSecond, stats.WaitMS, _ = core.MetricsSnapshot()

	if runErr != nil {
		return stats, runErr
	}
	return stats, verifyErr
}

// record fills a scratch buffer with value on the GPU, copies it into a
// readback buffer and submits the commands.
func (e *Engine) record(size uint64, value uint32) (submission, error) {
	c := e.context
	exec := e.pool.Borrow()
	if err := exec.Start(); err != nil {
		return submission{}, err
	}

	scratch, err := e.scratch.Get(size)
	if err != nil {
		return submission{}, errors.Join(err, exec.Abort())
	}
	// The context owns the scratch buffer from here on.
	if err := exec.AddBufferDeps([]*vulkan.BufferRef{scratch}, false); err != nil {
		return submission{}, errors.Join(err, exec.Abort())
	}

	readback, err := e.readback.Get(size)
	if err != nil {
		return submission{}, errors.Join(err, exec.Abort())
	}
	if err := exec.AddBufferDeps([]*vulkan.BufferRef{readback}, true); err != nil {
		readback.Unref()
		return submission{}, errors.Join(err, exec.Abort())
	}

	cb := exec.Buf.Handle
	timestamps := e.pool.QueriesPerContext() >= 2
	if timestamps {
		c.Driver.CmdWriteTimestamp2(cb, vkapi.PipelineStage2TopOfPipe, e.pool.QueryPool(), exec.QueryIndex())
	}

	src, dst := scratch.Buffer, readback.Buffer
	c.BufferBarrier(exec, src, vkapi.PipelineStage2AllTransfer, vkapi.Access2TransferWrite)
	c.Driver.CmdFillBuffer(cb, src.Handle, 0, size, value)
	c.BufferBarrier(exec, src, vkapi.PipelineStage2AllTransfer, vkapi.Access2TransferRead)
	c.BufferBarrier(exec, dst, vkapi.PipelineStage2AllTransfer, vkapi.Access2TransferWrite)
	c.Driver.CmdCopyBuffer(cb, src.Handle, dst.Handle, []vkapi.BufferCopy{{Size: size}})
	c.BufferBarrier(exec, dst, vkapi.PipelineStage2Host, vkapi.Access2HostRead)

	if timestamps {
		c.Driver.CmdWriteTimestamp2(cb, vkapi.PipelineStage2BottomOfPipe, e.pool.QueryPool(), exec.QueryIndex()+1)
	}

	if err := exec.Submit(); err != nil {
		readback.Unref()
		return submission{}, err
	}
	return submission{exec: exec, readback: readback, pattern: value}, nil
}

func (e *Engine) verify(sub submission, size uint64) error {
	buf := sub.readback.Buffer
	if err := e.context.InvalidateBuffers([]*vulkan.VulkanBuffer{buf}); err != nil {
		return err
	}
	if uint64(len(buf.Mapped)) < size {
		return fmt.Errorf("readback buffer mapped %d of %d bytes: %w", len(buf.Mapped), size, ErrMismatch)
	}
	for off := uint64(0); off < size; off += 4 {
		if got := binary.LittleEndian.Uint32(buf.Mapped[off:]); got != sub.pattern {
			return fmt.Errorf("context %d offset %d: got 0x%08x, want 0x%08x: %w",
				sub.exec.Index, off, got, sub.pattern, ErrMismatch)
		}
	}
	return nil
}

// gpuTime converts the two timestamps of a finished submission into a
// duration. Results that are not available count as zero.
func (e *Engine) gpuTime(exec *vulkan.VulkanExecContext) time.Duration {
	if e.pool.QueriesPerContext() < 2 {
		return 0
	}
	data, _, err := exec.QueryResult()
	if err != nil {
		if !vulkan.IsNotReady(err) {
			core.LogWarn("context %d timestamps: %s", exec.Index, err)
		}
		return 0
	}
	ts := vulkan.QueryValues(data, e.pool.Query64Bit())
	if len(ts) < 2 || ts[1] < ts[0] {
		return 0
	}
	period := float64(e.context.Properties.Limits.TimestampPeriod)
	return time.Duration(float64(ts[1]-ts[0]) * period)
}

// Stats returns the statistics of every completed round.
func (e *Engine) Stats() []RoundStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RoundStats(nil), e.stats...)
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStage
}

// Shutdown stops a running workload and releases everything in reverse
// creation order. Calling it again is a no-op.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stop)
	done := e.runDone
	e.mu.Unlock()

	if done != nil {
		<-done
	}

	e.setStage(EngineStageShuttingDown)

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("config watcher: %s", err)
		}
	}
	if e.jobs != nil {
		if err := e.jobs.Shutdown(); err != nil {
			return err
		}
	}
	if e.pool != nil {
		e.pool.Free()
	}
	if e.readback != nil {
		e.readback.Close()
	}
	if e.scratch != nil {
		e.scratch.Close()
	}
	if e.device != nil {
		e.device.Close()
	}
	if e.platform != nil {
		if err := e.platform.Shutdown(); err != nil {
			return err
		}
	}
	core.LogInfo("engine shut down")
	return nil
}
