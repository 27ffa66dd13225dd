package rpc

import (
	"fmt"

	"github.com/cuemby/adlb-go/pkg/codec"
	"github.com/cuemby/adlb-go/pkg/types"
)

// frameWriter concatenates a method's arguments into one wire frame.
// Every field is self-delimiting (varint-prefixed), so frames compose
// without a separate field count or schema — the same property
// pkg/codec's pack functions give individual datum values.
type frameWriter struct {
	buf []byte
}

func (w *frameWriter) putInt(v int64) { w.buf = codec.VarintEncode(w.buf, v) }
func (w *frameWriter) putBool(v bool) {
	if v {
		w.putInt(1)
	} else {
		w.putInt(0)
	}
}
func (w *frameWriter) putString(s string) { w.buf = append(w.buf, codec.PackBlob([]byte(s))...) }
func (w *frameWriter) putBlob(b []byte)    { w.buf = append(w.buf, codec.PackBlob(b)...) }
func (w *frameWriter) putDatumID(id types.DatumID) { w.putInt(int64(id)) }
func (w *frameWriter) bytes() []byte { return w.buf }

// frameReader is the inverse of frameWriter, reading fields off the
// front of a received wire frame in the order they were written.
type frameReader struct {
	buf []byte
	pos int
}

func newFrameReader(buf []byte) *frameReader { return &frameReader{buf: buf} }

func (r *frameReader) getInt() (int64, error) {
	v, n, err := codec.VarintDecode(r.buf[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *frameReader) getBool() (bool, error) {
	v, err := r.getInt()
	return v != 0, err
}

func (r *frameReader) getString() (string, error) {
	b, n, err := codec.UnpackBlob(r.buf[r.pos:])
	if err != nil {
		return "", err
	}
	r.pos += n
	return string(b), nil
}

func (r *frameReader) getBlob() ([]byte, error) {
	b, n, err := codec.UnpackBlob(r.buf[r.pos:])
	if err != nil {
		return nil, err
	}
	r.pos += n
	return append([]byte(nil), b...), nil
}

func (r *frameReader) getDatumID() (types.DatumID, error) {
	v, err := r.getInt()
	return types.DatumID(v), err
}

func (r *frameReader) done() error {
	if r.pos != len(r.buf) {
		return fmt.Errorf("rpc: frame has %d trailing bytes", len(r.buf)-r.pos)
	}
	return nil
}
