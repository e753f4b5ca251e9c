package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// NBT tag ids, as far as item stacks need them.
const (
	tagEnd = iota
	tagByte
	tagShort
	tagInt
	tagLong
	tagFloat
	tagDouble
	tagByteArray
	tagString
	tagList
	tagCompound
	tagIntArray
	tagLongArray
)

// readNBT consumes one complete NBT structure (or the single 0x00 byte that
// marks "no NBT" on an item stack) and returns the raw bytes. The proxy never
// interprets item NBT, it only needs to know where the field ends.
func (r *Reader) readNBT() ([]byte, error) {
	start := r.buf.Size() - int64(r.buf.Len())
	typ, err := r.ReadUByte()
	if err != nil {
		return nil, err
	}
	if typ == tagEnd {
		return nil, nil
	}
	// Named root tag: name, then payload.
	if err := r.skipNBTString(); err != nil {
		return nil, err
	}
	if err := r.skipNBTPayload(typ, 0); err != nil {
		return nil, err
	}
	end := r.buf.Size() - int64(r.buf.Len())
	raw := make([]byte, end-start)
	if _, err := r.buf.ReadAt(raw, start); err != nil {
		return nil, r.short(err)
	}
	return raw, nil
}

const maxNBTDepth = 32

func (r *Reader) skipNBTString() error {
	var p [2]byte
	if _, err := io.ReadFull(r.buf, p[:]); err != nil {
		return r.short(err)
	}
	return r.skipN(int(binary.BigEndian.Uint16(p[:])))
}

func (r *Reader) skipN(n int) error {
	if n < 0 || n > r.buf.Len() {
		return fmt.Errorf("%w: NBT field runs past packet body", ErrProtocol)
	}
	_, err := r.buf.Seek(int64(n), io.SeekCurrent)
	return r.short(err)
}

func (r *Reader) skipNBTPayload(typ byte, depth int) error {
	if depth > maxNBTDepth {
		return fmt.Errorf("%w: NBT nested too deeply", ErrProtocol)
	}
	switch typ {
	case tagByte:
		return r.skipN(1)
	case tagShort:
		return r.skipN(2)
	case tagInt, tagFloat:
		return r.skipN(4)
	case tagLong, tagDouble:
		return r.skipN(8)
	case tagByteArray, tagIntArray, tagLongArray:
		n, err := r.ReadInt()
		if err != nil {
			return err
		}
		size := int(n)
		if typ == tagIntArray {
			size *= 4
		} else if typ == tagLongArray {
			size *= 8
		}
		return r.skipN(size)
	case tagString:
		return r.skipNBTString()
	case tagList:
		elem, err := r.ReadUByte()
		if err != nil {
			return err
		}
		n, err := r.ReadInt()
		if err != nil {
			return err
		}
		for i := int32(0); i < n; i++ {
			if err := r.skipNBTPayload(elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	case tagCompound:
		for {
			child, err := r.ReadUByte()
			if err != nil {
				return err
			}
			if child == tagEnd {
				return nil
			}
			if err := r.skipNBTString(); err != nil {
				return err
			}
			if err := r.skipNBTPayload(child, depth+1); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: unknown NBT tag %d", ErrProtocol, typ)
}
