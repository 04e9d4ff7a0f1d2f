// File: cmd/hioload-net/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/layer"
	"github.com/momentics/hioload-net/pool"
)

var readBuffers = pool.NewBuffers(64 << 10)

// session buffers one stream. Reads continue until a short read so the NET
// layer re-arms readiness; writes keep the unsent tail for the next WRITE.
type session struct {
	obj *layer.IO
	in  []byte
	out []byte
	buf []byte
}

func newSession(obj *layer.IO) *session {
	return &session{obj: obj, buf: readBuffers.Get()}
}

// release hands the scratch buffer back; the session must not be used afterwards.
func (s *session) release() {
	if s.buf != nil {
		readBuffers.Put(s.buf)
		s.buf = nil
	}
}

// drain reads everything available. A critical error is returned; the NET
// layer has already queued the matching DISCONNECTED or ERROR event.
func (s *session) drain() error {
	for {
		n, err := s.obj.Read(s.buf)
		s.in = append(s.in, s.buf[:n]...)
		if err != nil {
			if api.CodeOf(err).IsCritical() {
				return err
			}
			return nil
		}
		if n < len(s.buf) {
			return nil
		}
	}
}

// flush writes as much of the pending output as the socket takes.
func (s *session) flush() error {
	for len(s.out) > 0 {
		n, err := s.obj.Write(s.out)
		s.out = s.out[n:]
		if err != nil {
			if api.CodeOf(err).IsCritical() {
				return err
			}
			return nil
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}
