// File: transport/trace/trace.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package trace provides a pass-through layer that records every event and
// every transfer crossing it as a stream of CBOR records.

package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/layer"
)

// LayerName is the tag of the trace layer.
const LayerName = "TRACE"

// Kind classifies a record.
type Kind uint8

const (
	KindEvent Kind = iota
	KindRead
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Record is one traced occurrence. Integer keys keep the stream compact.
type Record struct {
	Time  time.Time `cbor:"1,keyasint"`
	IO    string    `cbor:"2,keyasint"`
	Kind  Kind      `cbor:"3,keyasint"`
	Event string    `cbor:"4,keyasint,omitempty"`
	Len   int       `cbor:"5,keyasint"`
	Data  []byte    `cbor:"6,keyasint,omitempty"`
	Err   string    `cbor:"7,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace: decoder mode: %v", err))
	}
}

// Option configures a trace layer.
type Option func(*tracer)

// WithMaxData caps the payload bytes kept per transfer record; Len still
// reports the full count. 0 records lengths only.
func WithMaxData(n int) Option {
	return func(t *tracer) {
		if n >= 0 {
			t.maxData = n
		}
	}
}

const defaultMaxData = 256

// Add pushes a trace layer on top of obj writing records to w. The object
// must not be attached yet. Objects on different loops sharing w need a w
// that is safe for concurrent use. Connections accepted by a traced listener
// are traced into the same w.
func Add(obj *layer.IO, w io.Writer, opts ...Option) error {
	if obj == nil || w == nil {
		return api.ErrCodeInvalid
	}
	t := &tracer{enc: encMode.NewEncoder(w), maxData: defaultMaxData}
	for _, o := range opts {
		o(t)
	}
	_, err := obj.AddLayer(LayerName, t)
	return err
}

type tracer struct {
	layer.Passthrough
	enc     *cbor.Encoder
	maxData int
}

var (
	_ layer.Handler  = (*tracer)(nil)
	_ layer.Acceptor = (*tracer)(nil)
)

func (t *tracer) emit(l *layer.Layer, r Record) {
	r.Time = time.Now()
	r.IO = l.IO().ID().String()
	if err := t.enc.Encode(r); err != nil {
		l.Logger().Debug("trace record dropped", "err", err)
	}
}

func (t *tracer) transfer(l *layer.Layer, kind Kind, buf []byte, n int, err error) {
	r := Record{Kind: kind, Len: n}
	if n > 0 && t.maxData > 0 {
		r.Data = append([]byte(nil), buf[:min(n, t.maxData)]...)
	}
	if err != nil {
		r.Err = err.Error()
	}
	t.emit(l, r)
}

func (t *tracer) Read(l *layer.Layer, buf []byte) (int, error) {
	n, err := l.ReadBelow(buf)
	t.transfer(l, KindRead, buf, n, err)
	return n, err
}

func (t *tracer) Write(l *layer.Layer, buf []byte) (int, error) {
	n, err := l.WriteBelow(buf)
	t.transfer(l, KindWrite, buf, n, err)
	return n, err
}

func (t *tracer) ProcessEvent(l *layer.Layer, ev api.EventType) (api.EventType, bool) {
	t.emit(l, Record{Kind: KindEvent, Event: ev.String()})
	return ev, false
}

// Accept traces the child with the same encoder.
func (t *tracer) Accept(child *layer.IO, _ *layer.Layer) error {
	_, err := child.AddLayer(LayerName, &tracer{enc: t.enc, maxData: t.maxData})
	return err
}

// Reader decodes a record stream written by the trace layer.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
