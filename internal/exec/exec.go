// Package exec drives the device copy engine used to move framebuffer
// contents through the aperture, and measures its throughput. The engine is
// fed batches of row copies; a batch is the unit of submission and a sync
// point drains everything submitted before it.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// maxRowBytes is the widest single copy op the engine accepts. Larger
// transfers are split into full rows plus a remainder row.
const maxRowBytes = 16 << 10

var (
	ErrEngineClosed = errors.New("copy engine closed")
	ErrSizeMismatch = errors.New("source and destination sizes differ")
)

var nextHandle atomic.Uint32

// Object is a buffer with a device handle, the unit the copy engine operates
// on.
type Object struct {
	handle uint32
	buf    []byte
}

func NewObject(size int) *Object {
	return &Object{handle: nextHandle.Add(1), buf: make([]byte, size)}
}

func (o *Object) Handle() uint32 { return o.handle }
func (o *Object) Size() int      { return len(o.buf) }

// Fill writes a repeating byte pattern derived from seed.
func (o *Object) Fill(seed byte) {
	for i := range o.buf {
		o.buf[i] = seed + byte(i)
	}
}

// Bytes exposes the backing store. Callers must not touch it while a batch
// referencing the object is in flight.
func (o *Object) Bytes() []byte { return o.buf }

// CopyOp copies Len bytes between object offsets.
type CopyOp struct {
	SrcOff, DstOff, Len int
}

// Batch is one submission: an ordered list of copy ops between two objects.
type Batch struct {
	Src, Dst *Object
	Ops      []CopyOp
}

// LinearCopyBatch builds the batch that copies src to dst in full rows of
// maxRowBytes followed by one remainder row.
func LinearCopyBatch(src, dst *Object) (*Batch, error) {
	if src.Size() != dst.Size() {
		return nil, fmt.Errorf("%w: %d vs %d", ErrSizeMismatch, src.Size(), dst.Size())
	}
	b := &Batch{Src: src, Dst: dst}
	off := 0
	for remaining := src.Size(); remaining > 0; {
		n := remaining
		if n > maxRowBytes {
			n = maxRowBytes
		}
		b.Ops = append(b.Ops, CopyOp{SrcOff: off, DstOff: off, Len: n})
		off += n
		remaining -= n
	}
	return b, nil
}

// Engine accepts copy batches. Submit queues; Sync blocks until everything
// submitted before it has executed.
type Engine interface {
	Submit(ctx context.Context, b *Batch) error
	Sync(ctx context.Context) error
}

type engineReq struct {
	batch *Batch
	done  chan struct{} // non-nil marks a sync barrier
}

// SoftEngine executes batches on a single worker goroutine, preserving
// submission order the way a hardware ring would.
type SoftEngine struct {
	queue  chan engineReq
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewSoftEngine starts the worker. depth bounds how many batches may be
// queued before Submit blocks.
func NewSoftEngine(depth int) *SoftEngine {
	if depth <= 0 {
		depth = 64
	}
	e := &SoftEngine{queue: make(chan engineReq, depth)}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *SoftEngine) run() {
	defer e.wg.Done()
	for req := range e.queue {
		if req.done != nil {
			close(req.done)
			continue
		}
		b := req.batch
		for _, op := range b.Ops {
			copy(b.Dst.buf[op.DstOff:op.DstOff+op.Len], b.Src.buf[op.SrcOff:op.SrcOff+op.Len])
		}
	}
}

func (e *SoftEngine) send(ctx context.Context, req engineReq) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	select {
	case e.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *SoftEngine) Submit(ctx context.Context, b *Batch) error {
	return e.send(ctx, engineReq{batch: b})
}

// Sync inserts a barrier and waits for the worker to reach it.
func (e *SoftEngine) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := e.send(ctx, engineReq{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the worker. Submissions after Close fail
// with ErrEngineClosed.
func (e *SoftEngine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.queue)
	}
	e.wg.Wait()
}
