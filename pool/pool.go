// File: pool/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package pool provides typed wrappers over sync.Pool and a fixed-size
// byte buffer pool for per-connection scratch space.

package pool

import "sync"

// Pool is a typed sync.Pool.
type Pool[T any] struct {
	p sync.Pool
}

// New returns a pool creating values with newFn.
func New[T any](newFn func() T) *Pool[T] {
	return &Pool[T]{p: sync.Pool{New: func() any { return newFn() }}}
}

func (p *Pool[T]) Get() T { return p.p.Get().(T) }

func (p *Pool[T]) Put(v T) { p.p.Put(v) }

// Buffers hands out byte slices of one fixed size.
type Buffers struct {
	size int
	p    *Pool[*[]byte]
}

// NewBuffers returns a pool of size-byte buffers.
func NewBuffers(size int) *Buffers {
	return &Buffers{
		size: size,
		p: New(func() *[]byte {
			b := make([]byte, size)
			return &b
		}),
	}
}

// Size returns the length of the buffers handed out.
func (b *Buffers) Size() int { return b.size }

// Get returns a buffer of Size bytes. Its contents are unspecified.
func (b *Buffers) Get() []byte {
	return (*b.p.Get())[:b.size]
}

// Put returns buf to the pool. Buffers of another capacity are dropped.
func (b *Buffers) Put(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	buf = buf[:b.size]
	b.p.Put(&buf)
}
