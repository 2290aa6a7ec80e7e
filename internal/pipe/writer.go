// Copyright (c) 2026 The WANProxy-XTech Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package pipe

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteHello writes a HELLO record: opcode, len:u8, uuid[len], nominal_size:u64-be.
func WriteHello(w io.Writer, cacheID string, nominalSize uint64) error {
	if len(cacheID) > 255 {
		return fmt.Errorf("pipe: cache id %q too long for HELLO", cacheID)
	}
	buf := make([]byte, 0, 2+len(cacheID)+8)
	buf = append(buf, byte(OpHello), byte(len(cacheID)))
	buf = append(buf, cacheID...)
	buf = binary.BigEndian.AppendUint64(buf, nominalSize)
	_, err := w.Write(buf)
	return err
}

// WriteFrame writes a FRAME record: opcode, len:u16-be, bytes[len].
// payload must be non-empty and no longer than MaxFrameLength.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrFrameEmpty
	}
	if len(payload) > MaxFrameLength {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 0, 3+len(payload))
	buf = append(buf, byte(OpFrame))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// WriteAsk writes an ASK record: opcode, hash:u64-be.
func WriteAsk(w io.Writer, hash uint64) error {
	buf := make([]byte, 0, 9)
	buf = append(buf, byte(OpAsk))
	buf = binary.BigEndian.AppendUint64(buf, hash)
	_, err := w.Write(buf)
	return err
}

// WriteLearn writes a LEARN record: opcode, W bytes. The hash is not
// carried on the wire; the peer derives it from segment on receipt.
func WriteLearn(w io.Writer, segment []byte) error {
	buf := make([]byte, 0, 1+len(segment))
	buf = append(buf, byte(OpLearn))
	buf = append(buf, segment...)
	_, err := w.Write(buf)
	return err
}

// WriteEOS writes the half-close initiation record: opcode only.
func WriteEOS(w io.Writer) error {
	_, err := w.Write([]byte{byte(OpEOS)})
	return err
}

// WriteEOSAck writes the half-close acknowledgement record: opcode only.
func WriteEOSAck(w io.Writer) error {
	_, err := w.Write([]byte{byte(OpEOSAck)})
	return err
}
