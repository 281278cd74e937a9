package causal

import (
	"github.com/ugorji/go/codec"
)

// wireHandle is the single codec.Handle shared by every stable binary
// encoding in this repository (persisted DCCs, BVVs, and fabric messages),
// so that on-disk state and wire frames always agree byte-for-byte.
var wireHandle = func() *codec.BincHandle {
	h := &codec.BincHandle{}
	h.Canonical = true
	return h
}()

// WireHandle exposes the shared codec handle to other packages (vnodelog,
// storage, fabric) that must encode state in the same stable format.
func WireHandle() *codec.BincHandle { return wireHandle }

type dccWire struct {
	Dots    []Dot
	Values  [][]byte
	Context VersionVector
}

// EncodeDCC serializes a container for storage or transfer.
func EncodeDCC(d DottedCausalContainer) ([]byte, error) {
	w := dccWire{Context: d.Context}
	for dot, val := range d.Values {
		w.Dots = append(w.Dots, dot)
		w.Values = append(w.Values, val)
	}
	var out []byte
	enc := codec.NewEncoderBytes(&out, wireHandle)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeDCC reverses EncodeDCC.
func DecodeDCC(data []byte) (DottedCausalContainer, error) {
	var w dccWire
	dec := codec.NewDecoderBytes(data, wireHandle)
	if err := dec.Decode(&w); err != nil {
		return DottedCausalContainer{}, err
	}
	d := NewDCC()
	d.Context = w.Context
	if d.Context == nil {
		d.Context = NewVersionVector()
	}
	for i, dot := range w.Dots {
		d.Values[dot] = w.Values[i]
	}
	return d, nil
}

// EncodeBVV serializes a clock for persisted vnode metadata.
func EncodeBVV(bvv BitmappedVersionVector) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, wireHandle)
	if err := enc.Encode(bvv); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeBVV reverses EncodeBVV.
func DecodeBVV(data []byte) (BitmappedVersionVector, error) {
	bvv := NewBVV()
	dec := codec.NewDecoderBytes(data, wireHandle)
	if err := dec.Decode(&bvv); err != nil {
		return nil, err
	}
	return bvv, nil
}
