// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"bytes"
	"math"
)

// Buffer is a bytes.Buffer with little-endian wire helpers, used to
// build the packed frames the firmware and the FPGA expect.
type Buffer struct {
	bytes.Buffer
}

func NewBuffer(initSize int) *Buffer {
	b := &Buffer{}

	b.Grow(initSize)

	return b
}

func (buf *Buffer) WriteUint16LE(value uint16) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
}

func (buf *Buffer) WriteUint32LE(value uint32) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
	buf.WriteByte(byte(value >> 16))
	buf.WriteByte(byte(value >> 24))
}

func convertToUint16(buf []byte) uint16 {
	if len(buf) > 1 {
		return uint16(buf[0]) | (uint16(buf[1]) << 8)
	} else {
		logger.Error("could not read little endian uint16 from given buffer")
		return math.MaxUint16
	}
}

func convertToUint32(buf []byte) uint32 {
	if len(buf) > 3 {
		return uint32(buf[0]) | (uint32(buf[1]) << 8) | (uint32(buf[2]) << 16) | (uint32(buf[3]) << 24)
	} else {
		logger.Error("could not read little endian uint32 from given buffer")
		return math.MaxUint32
	}
}
