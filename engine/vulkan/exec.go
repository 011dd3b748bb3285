package vulkan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vkexec/engine/containers"
	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

// ExecPoolConfig describes an execution pool.
type ExecPoolConfig struct {
	// Contexts is the number of execution contexts, at least 1.
	Contexts int
	// QueriesPerContext reserves that many queries per context. Zero means
	// no query pool.
	QueriesPerContext int
	QueryType         vkapi.QueryType
	Query64Bit        bool
	// QueryNext extends the query pool create info.
	QueryNext []any
	// Locker overrides the queue locker of the device context.
	Locker vkapi.QueueLocker
}

// VulkanExecPool is a fixed set of execution contexts handed out
// round-robin. Reuse of a context is made safe by Start waiting on its
// fence.
type VulkanExecPool struct {
	ID uuid.UUID

	ctx    *VulkanContext
	qf     QueueFamilyCtx
	locker vkapi.QueueLocker

	cmdPool  vkapi.CommandPool
	cmdBufs  []*VulkanCommandBuffer
	contexts *containers.Ring[*VulkanExecContext]

	queryPool     vkapi.QueryPool
	queryType     vkapi.QueryType
	nbQueries     uint32
	queryResults  int
	queryStatuses int
	queryStride   int
	query64       bool
	qdSize        int

	submitMu   sync.Mutex
	lastSubmit time.Time
}

// VulkanExecContext is one reusable submission slot: a command buffer, a
// fence and the dependencies of the commands being recorded.
type VulkanExecContext struct {
	Index  int
	Parent *VulkanExecPool

	Buf         *VulkanCommandBuffer
	Queue       vkapi.Queue
	QueueFamily uint32
	QueueIndex  uint32

	// waitMu orders fence resets after concurrent waits. fenceMu guards
	// the fence pointer and is never held across a blocking wait.
	waitMu  sync.Mutex
	fenceMu sync.Mutex
	fence   *VulkanFence
	// fenceLost is set when a replacement fence could not be created. The
	// next Start retries before waiting.
	fenceLost bool

	queryIndex uint32
	queryData  []byte

	hadSubmission bool

	bufDeps      []*BufferRef
	frameDeps    []frameDep
	semWait      []vkapi.SemaphoreSubmitInfo
	semSig       []vkapi.SemaphoreSubmitInfo
	semSigValDst []*uint64
}

// NewExecPool creates cfg.Contexts execution contexts submitting to the
// queue family qf. On failure everything created so far is destroyed.
func NewExecPool(context *VulkanContext, qf QueueFamilyCtx, cfg ExecPoolConfig) (*VulkanExecPool, error) {
	if cfg.Contexts < 1 {
		return nil, fmt.Errorf("execution pool needs at least one context, got %d: %w", cfg.Contexts, core.ErrInvalidArgument)
	}
	if cfg.QueriesPerContext < 0 {
		return nil, fmt.Errorf("negative query count %d: %w", cfg.QueriesPerContext, core.ErrInvalidArgument)
	}
	if qf.NumQueues == 0 {
		return nil, fmt.Errorf("queue family %d has no queues: %w", qf.Family, core.ErrInvalidArgument)
	}

	pool := &VulkanExecPool{
		ID:     uuid.New(),
		ctx:    context,
		qf:     qf,
		locker: cfg.Locker,
	}
	if pool.locker == nil {
		pool.locker = context.Locker
	}

	if err := pool.init(cfg); err != nil {
		pool.Free()
		return nil, err
	}

	core.LogDebug("execution pool %s: %d contexts on queue family %d (%d queues), %d queries per context",
		pool.ID, cfg.Contexts, qf.Family, qf.NumQueues, cfg.QueriesPerContext)

	return pool, nil
}

func (p *VulkanExecPool) init(cfg ExecPoolConfig) error {
	drv := p.ctx.Driver

	// Create command pool
	cmdPool, res := drv.CreateCommandPool(vkapi.CommandPoolCreateInfo{
		Flags:            vkapi.CommandPoolCreateTransient | vkapi.CommandPoolCreateResetCommandBuffer,
		QueueFamilyIndex: p.qf.Family,
	})
	if res != vkapi.Success {
		err := fmt.Errorf("command pool creation failure: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return err
	}
	p.cmdPool = cmdPool

	bufs, err := allocateCommandBuffers(p.ctx, p.cmdPool, cfg.Contexts)
	if err != nil {
		return err
	}
	p.cmdBufs = bufs

	if cfg.QueriesPerContext > 0 {
		queryPool, res := drv.CreateQueryPool(vkapi.QueryPoolCreateInfo{
			QueryType:  cfg.QueryType,
			QueryCount: uint32(cfg.QueriesPerContext * cfg.Contexts),
			Next:       cfg.QueryNext,
		})
		if res != vkapi.Success {
			err := fmt.Errorf("query pool creation failure: %s: %w", res, core.ErrExternal)
			core.LogError(err.Error())
			return err
		}
		p.queryPool = queryPool
		p.queryType = cfg.QueryType
		p.nbQueries = uint32(cfg.QueriesPerContext)
		p.query64 = cfg.Query64Bit

		switch cfg.QueryType {
		case vkapi.QueryTypeResultStatusOnly:
			p.queryStride = 1
			p.queryResults = 0
			p.queryStatuses = cfg.QueriesPerContext
		case vkapi.QueryTypeVideoEncodeFeedback:
			// One result followed by its status word.
			p.queryStride = 2
			p.queryResults = cfg.QueriesPerContext
			p.queryStatuses = cfg.QueriesPerContext
		default:
			p.queryStride = 1
			p.queryResults = cfg.QueriesPerContext
			p.queryStatuses = 0
		}
		p.qdSize = (p.queryResults + p.queryStatuses) * p.wordSize()
	}

	contexts := make([]*VulkanExecContext, cfg.Contexts)
	for i := range contexts {
		e := &VulkanExecContext{
			Index:       i,
			Parent:      p,
			Buf:         p.cmdBufs[i],
			QueueFamily: p.qf.Family,
			QueueIndex:  uint32(i) % p.qf.NumQueues,
		}
		contexts[i] = e

		fence, err := NewFence(p.ctx, true)
		if err != nil {
			p.contexts = containers.NewRing(contexts[:i+1])
			return err
		}
		e.fence = fence

		if p.queryPool != 0 {
			e.queryIndex = uint32(i) * p.nbQueries
			e.queryData = make([]byte, p.qdSize)
		}

		e.Queue = drv.GetDeviceQueue(e.QueueFamily, e.QueueIndex)
	}
	p.contexts = containers.NewRing(contexts)

	return nil
}

func (p *VulkanExecPool) wordSize() int {
	if p.query64 {
		return 8
	}
	return 4
}

// Borrow returns the next context in round-robin order. It never blocks;
// Start waits for the context to become idle.
func (p *VulkanExecPool) Borrow() *VulkanExecContext {
	return p.contexts.Next()
}

func (p *VulkanExecPool) Size() int {
	if p.contexts == nil {
		return 0
	}
	return p.contexts.Len()
}

// Context returns the context at slot i.
func (p *VulkanExecPool) Context(i int) *VulkanExecContext {
	return p.contexts.At(i)
}

func (p *VulkanExecPool) QueueFamily() QueueFamilyCtx {
	return p.qf
}

func (p *VulkanExecPool) QueriesPerContext() int {
	return int(p.nbQueries)
}

func (p *VulkanExecPool) QueryPool() vkapi.QueryPool {
	return p.queryPool
}

func (p *VulkanExecPool) Query64Bit() bool {
	return p.query64
}

// Free waits for every context, releases their dependencies and destroys
// the pool objects.
func (p *VulkanExecPool) Free() {
	drv := p.ctx.Driver

	if p.contexts != nil {
		for _, e := range p.contexts.Items() {
			if e == nil {
				continue
			}
			if e.fence != nil {
				// A context that was started but never submitted holds an
				// unsignaled fence that nothing will signal.
				if !e.fenceLost && e.Buf.State != COMMAND_BUFFER_STATE_RECORDING && e.Buf.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
					e.fence.Wait(p.ctx, vkapi.WaitForever)
				}
				e.fence.Destroy(p.ctx)
				e.fence = nil
				e.fenceLost = false
			}
			e.DiscardDeps()
			e.queryData = nil
		}
	}

	if len(p.cmdBufs) > 0 {
		handles := make([]vkapi.CommandBuffer, len(p.cmdBufs))
		for i, b := range p.cmdBufs {
			handles[i] = b.Handle
			b.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
		}
		drv.FreeCommandBuffers(p.cmdPool, handles)
		p.cmdBufs = nil
	}
	if p.cmdPool != 0 {
		drv.DestroyCommandPool(p.cmdPool)
		p.cmdPool = 0
	}
	if p.queryPool != 0 {
		drv.DestroyQueryPool(p.queryPool)
		p.queryPool = 0
	}
	p.contexts = nil
}

// Start waits until the context is idle, drops the dependencies of its
// previous use and begins recording.
func (e *VulkanExecContext) Start() error {
	ctx := e.Parent.ctx

	if _, lost := e.currentFence(); lost {
		if err := e.recoverFence(); err != nil {
			return err
		}
	}

	// Wait for the fence to be signalled
	waitStart := time.Now()
	e.fence.Wait(ctx, vkapi.WaitForever)
	core.MetricsRecordWait(time.Since(waitStart).Seconds())

	e.waitMu.Lock()
	err := e.fence.Reset(ctx)
	e.waitMu.Unlock()
	if err != nil {
		return err
	}

	e.DiscardDeps()
	e.Buf.Reset()

	if err := e.Buf.Begin(ctx, true); err != nil {
		return errors.Join(err, e.recoverFence())
	}

	if e.Parent.nbQueries > 0 {
		ctx.Driver.CmdResetQueryPool(e.Buf.Handle, e.Parent.queryPool, e.queryIndex, e.Parent.nbQueries)
	}
	return nil
}

// Submit ends recording and submits the commands together with the
// accumulated semaphore waits and signals. On failure the dependencies
// are dropped and ErrExternal is returned.
func (e *VulkanExecContext) Submit() error {
	ctx := e.Parent.ctx

	if err := e.Buf.End(ctx); err != nil {
		e.DiscardDeps()
		return errors.Join(err, e.recoverFence())
	}

	submit := vkapi.SubmitInfo2{
		WaitSemaphoreInfos:   e.semWait,
		CommandBufferInfos:   []vkapi.CommandBufferSubmitInfo{{CommandBuffer: e.Buf.Handle}},
		SignalSemaphoreInfos: e.semSig,
	}

	e.Parent.locker.LockQueue(e.QueueFamily, e.QueueIndex)
	res := ctx.Driver.QueueSubmit2(e.Queue, []vkapi.SubmitInfo2{submit}, e.fence.Handle)
	e.Parent.locker.UnlockQueue(e.QueueFamily, e.QueueIndex)

	if res != vkapi.Success {
		err := fmt.Errorf("unable to submit command buffer: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		e.DiscardDeps()
		return errors.Join(err, e.recoverFence())
	}
	e.Buf.UpdateSubmitted()
	e.Parent.recordSubmit()

	for _, dst := range e.semSigValDst {
		*dst++
	}

	// Unlock all frames
	for i := range e.frameDeps {
		d := &e.frameDeps[i]
		if !d.locked {
			continue
		}
		if d.update {
			f := d.frame
			for p := range f.Images {
				f.Layout[p] = d.layoutDst
				f.Access[p] = d.accessDst
				f.QueueFamily[p] = d.queueFamilyDst
			}
		}
		d.frame.unlock()
		d.locked = false
	}

	e.hadSubmission = true
	return nil
}

func (p *VulkanExecPool) recordSubmit() {
	p.submitMu.Lock()
	now := time.Now()
	var elapsed float64
	if !p.lastSubmit.IsZero() {
		elapsed = now.Sub(p.lastSubmit).Seconds()
	}
	p.lastSubmit = now
	p.submitMu.Unlock()

	core.MetricsRecordSubmit(elapsed)
}

// recoverFence replaces the fence after a recording that never reached
// the queue, so the next Start does not wait forever on it. When no fence
// can be created the context is marked and Start tries again.
func (e *VulkanExecContext) recoverFence() error {
	ctx := e.Parent.ctx
	e.Buf.Reset()

	fence, err := NewFence(ctx, true)
	if err != nil {
		e.fenceMu.Lock()
		e.fenceLost = true
		e.fenceMu.Unlock()
		return fmt.Errorf("execution context %d has no usable fence: %w", e.Index, err)
	}

	e.waitMu.Lock()
	e.fenceMu.Lock()
	old := e.fence
	e.fence = fence
	e.fenceLost = false
	e.fenceMu.Unlock()
	e.waitMu.Unlock()

	old.Destroy(ctx)
	return nil
}

func (e *VulkanExecContext) currentFence() (*VulkanFence, bool) {
	e.fenceMu.Lock()
	defer e.fenceMu.Unlock()
	return e.fence, e.fenceLost
}

// Abort drops a started recording without submitting it. The context is
// ready for the next Start right away, unless the fence could not be
// replaced, which is reported.
func (e *VulkanExecContext) Abort() error {
	if e.Buf.State == COMMAND_BUFFER_STATE_RECORDING {
		_ = e.Buf.End(e.Parent.ctx)
	}
	e.DiscardDeps()
	return e.recoverFence()
}

// Wait blocks until the last submission of the context completed and
// releases its dependencies.
func (e *VulkanExecContext) Wait() {
	ctx := e.Parent.ctx

	e.waitMu.Lock()
	if fence, lost := e.currentFence(); !lost {
		fence.Wait(ctx, vkapi.WaitForever)
	}
	e.waitMu.Unlock()

	e.DiscardDeps()
	if e.Buf.State == COMMAND_BUFFER_STATE_SUBMITTED {
		e.Buf.Reset()
	}
}

// Idle reports whether the context fence is signaled. It does not block
// behind a concurrent Wait. A context without a usable fence has nothing
// in flight and is idle.
func (e *VulkanExecContext) Idle() bool {
	e.fenceMu.Lock()
	defer e.fenceMu.Unlock()
	if e.fenceLost {
		return true
	}
	return e.fence.Signaled(e.Parent.ctx)
}

func (e *VulkanExecContext) HadSubmission() bool {
	return e.hadSubmission
}

func (e *VulkanExecContext) Fence() vkapi.Fence {
	fence, _ := e.currentFence()
	return fence.Handle
}

// QueryIndex is the first query of this context in the pool's query pool.
func (e *VulkanExecContext) QueryIndex() uint32 {
	return e.queryIndex
}

// QueryResult fetches the raw results of the context's queries into a
// fresh slice owned by the caller. For
// queries that carry a status word, status is the worst status seen:
// the most negative value if any is negative, else the largest one.
// ErrNotReady is returned before the first submission and while the
// results are not available.
func (e *VulkanExecContext) QueryResult() (data []byte, status int64, err error) {
	p := e.Parent
	if p.nbQueries == 0 {
		return nil, 0, fmt.Errorf("execution pool has no queries: %w", core.ErrInvalidArgument)
	}
	if !e.hadSubmission {
		return nil, 0, core.ErrNotReady
	}

	var flags vkapi.QueryResultFlags
	if p.query64 {
		flags |= vkapi.QueryResult64
	}
	if p.queryStatuses > 0 {
		flags |= vkapi.QueryResultWithStatus
	}

	word := p.wordSize()
	res := p.ctx.Driver.GetQueryPoolResults(p.queryPool, e.queryIndex, p.nbQueries,
		e.queryData, uint64(p.queryStride*word), flags)
	switch res {
	case vkapi.Success:
	case vkapi.NotReady:
		return nil, 0, core.ErrNotReady
	default:
		err := fmt.Errorf("unable to perform query: %s: %w", res, core.ErrExternal)
		core.LogError(err.Error())
		return nil, 0, err
	}

	if p.queryStatuses > 0 {
		for i := 0; i < p.queryStatuses; i++ {
			off := (i*p.queryStride + p.queryStride - 1) * word
			var v int64
			if p.query64 {
				v = int64(binary.LittleEndian.Uint64(e.queryData[off:]))
			} else {
				v = int64(int32(binary.LittleEndian.Uint32(e.queryData[off:])))
			}
			status = reduceQueryStatus(status, v)
		}
	}

	return append([]byte(nil), e.queryData...), status, nil
}

func reduceQueryStatus(running, v int64) int64 {
	if (v < 0 && v < running) || (running >= 0 && v > running) {
		return v
	}
	return running
}

// QueryValues decodes raw query results into integers.
func QueryValues(data []byte, is64 bool) []uint64 {
	if is64 {
		out := make([]uint64, len(data)/8)
		for i := range out {
			out[i] = binary.LittleEndian.Uint64(data[i*8:])
		}
		return out
	}
	out := make([]uint64, len(data)/4)
	for i := range out {
		out[i] = uint64(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// IsNotReady reports whether err is a not-ready query result.
func IsNotReady(err error) bool {
	return errors.Is(err, core.ErrNotReady)
}
