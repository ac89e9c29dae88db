package vm

import "fmt"

// ScratchBufferSize is the fixed size of a host scratch buffer.
const ScratchBufferSize = 2048

// ScratchBuffer is a fixed-size byte block handed out by the host. A
// data-buffer cell owns exactly one; string cells share it by compressed
// reference to the owning cell. Release returns the block to the host and
// must be called exactly once, by the owning cell's finalizer.
type ScratchBuffer struct {
	Data    [ScratchBufferSize]byte
	release func(*ScratchBuffer)
}

// Release returns the buffer to the host. Safe to call on buffers with no
// registered release hook.
func (sb *ScratchBuffer) Release() {
	if sb.release != nil {
		sb.release(sb)
		sb.release = nil
	}
}

// Platform is the collaborator surface the runtime requires from its host.
type Platform interface {
	// MakeScratchBuffer returns a zeroed fixed-size byte block.
	MakeScratchBuffer() *ScratchBuffer

	// ScratchBuffersRemaining is a hint used to decide whether to collect
	// before allocating a data-buffer.
	ScratchBuffersRemaining() int

	// Fatal aborts with a message. Does not return.
	Fatal(msg string)
}

// BasicPlatform is the default host: a bounded pool of scratch buffers and a
// panicking Fatal. Suitable for the CLI and for tests.
type BasicPlatform struct {
	limit       int
	outstanding int
}

// DefaultScratchBufferLimit bounds how many scratch buffers BasicPlatform
// hands out before reporting exhaustion to the allocator.
const DefaultScratchBufferLimit = 64

// NewBasicPlatform creates a platform with the default buffer limit.
func NewBasicPlatform() *BasicPlatform {
	return &BasicPlatform{limit: DefaultScratchBufferLimit}
}

// NewBasicPlatformWithLimit creates a platform handing out at most limit
// scratch buffers at a time.
func NewBasicPlatformWithLimit(limit int) *BasicPlatform {
	return &BasicPlatform{limit: limit}
}

// MakeScratchBuffer returns a zeroed buffer charged against the limit. The
// buffer's Release hook refunds it.
func (p *BasicPlatform) MakeScratchBuffer() *ScratchBuffer {
	if p.outstanding >= p.limit {
		p.Fatal("scratch buffer pool exhausted")
	}
	p.outstanding++
	return &ScratchBuffer{release: func(*ScratchBuffer) { p.outstanding-- }}
}

// ScratchBuffersRemaining returns how many buffers may still be handed out.
func (p *BasicPlatform) ScratchBuffersRemaining() int {
	return p.limit - p.outstanding
}

// Fatal panics with a diagnostic. Truly unrecoverable conditions (intern
// table overflow, failed init self-tests) land here and do not return.
func (p *BasicPlatform) Fatal(msg string) {
	panic(fmt.Sprintf("fern: fatal: %s", msg))
}
