// Package inference defines the narrow contract between the recognizer and a
// neural-network runtime.
//
// Every model component (encoder, decoder, joiner, VAD classifier) is driven
// through an [Engine]: a pure function from named input tensors to named
// output tensors. Engines retain no state between calls; recurrent state is
// threaded explicitly by the caller as ordinary tensors.
//
// A [Tensor] is a value type: a shape plus a contiguous row-major buffer.
// Token IDs travel as int64 tensors, everything else as float32.
package inference

import (
	"errors"
	"fmt"
)

// ErrMissingOutput is returned when an engine result lacks an expected output.
var ErrMissingOutput = errors.New("inference: missing output")

// DType identifies the element type stored in a [Tensor].
type DType int

const (
	Float32 DType = iota
	Int64
)

// String returns the lowercase element type name.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// Tensor is a dense row-major array with an explicit shape. Exactly one of
// Floats and Ints is populated, selected by DType.
type Tensor struct {
	Shape  []int64
	DType  DType
	Floats []float32
	Ints   []int64
}

// NewFloat returns a float32 tensor. It panics if len(data) does not match
// the element count implied by shape.
func NewFloat(shape []int64, data []float32) Tensor {
	if n := NumElements(shape); int64(len(data)) != n {
		panic(fmt.Sprintf("inference: float tensor shape %v wants %d elements, got %d", shape, n, len(data)))
	}
	return Tensor{Shape: cloneShape(shape), DType: Float32, Floats: data}
}

// NewInt returns an int64 tensor. It panics if len(data) does not match the
// element count implied by shape.
func NewInt(shape []int64, data []int64) Tensor {
	if n := NumElements(shape); int64(len(data)) != n {
		panic(fmt.Sprintf("inference: int tensor shape %v wants %d elements, got %d", shape, n, len(data)))
	}
	return Tensor{Shape: cloneShape(shape), DType: Int64, Ints: data}
}

// Zeros returns a zero-filled float32 tensor of the given shape.
func Zeros(shape ...int64) Tensor {
	return NewFloat(shape, make([]float32, NumElements(shape)))
}

// NumElements returns the product of the dimensions in shape.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Empty reports whether t holds no elements (the zero Tensor is empty).
func (t Tensor) Empty() bool {
	return len(t.Floats) == 0 && len(t.Ints) == 0
}

// Len returns the number of elements in t.
func (t Tensor) Len() int {
	if t.DType == Int64 {
		return len(t.Ints)
	}
	return len(t.Floats)
}

// Rows returns the size of the first dimension, or 0 for a scalar.
func (t Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return int(t.Shape[0])
}

// RowSize returns the number of elements per entry of the first dimension.
func (t Tensor) RowSize() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return int(NumElements(t.Shape[1:]))
}

// Row returns a view of row i of a float32 tensor. The view aliases t.
func (t Tensor) Row(i int) []float32 {
	n := t.RowSize()
	return t.Floats[i*n : (i+1)*n]
}

// Clone returns a deep copy of t.
func (t Tensor) Clone() Tensor {
	c := Tensor{Shape: cloneShape(t.Shape), DType: t.DType}
	if t.Floats != nil {
		c.Floats = append([]float32(nil), t.Floats...)
	}
	if t.Ints != nil {
		c.Ints = append([]int64(nil), t.Ints...)
	}
	return c
}

// Reshape returns a view of t with a new shape holding the same number of
// elements.
func (t Tensor) Reshape(shape ...int64) (Tensor, error) {
	if NumElements(shape) != int64(t.Len()) {
		return Tensor{}, fmt.Errorf("inference: cannot reshape %v to %v", t.Shape, shape)
	}
	t.Shape = cloneShape(shape)
	return t, nil
}

// RepeatRows stacks n copies of a single-row tensor along a new first
// dimension. Used to broadcast one encoder frame against several decoder
// outputs.
func RepeatRows(row []float32, n int) Tensor {
	data := make([]float32, 0, len(row)*n)
	for range n {
		data = append(data, row...)
	}
	return NewFloat([]int64{int64(n), int64(len(row))}, data)
}

// StackRows concatenates equally sized float32 rows into a 2-D tensor.
func StackRows(rows [][]float32) Tensor {
	if len(rows) == 0 {
		return Tensor{}
	}
	dim := len(rows[0])
	data := make([]float32, 0, dim*len(rows))
	for _, r := range rows {
		data = append(data, r...)
	}
	return NewFloat([]int64{int64(len(rows)), int64(dim)}, data)
}

func cloneShape(s []int64) []int64 {
	return append([]int64(nil), s...)
}
