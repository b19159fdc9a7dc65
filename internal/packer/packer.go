// Package packer implements the self-describing binary encoding used for
// diagnostic reports. A frame is a single compression-code byte followed by
// the (optionally compressed) payload; the payload is a recursive sequence of
// one-byte type tags with little-endian length/value fields.
package packer

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// Compression codes carried in the first frame byte.
type Compression byte

const (
	CompressionNone Compression = 0
	CompressionZlib Compression = 1
	CompressionGzip Compression = 2
)

// Type tags.
const (
	tagNull     byte = 0x00
	tagMap      byte = 0x01
	tagString   byte = 0x02
	tagInt      byte = 0x03
	tagFloat    byte = 0x04
	tagList     byte = 0x05
	tagBool     byte = 0x06
	tagDatetime byte = 0x07
)

// UnknownTagError is returned when the payload carries a tag byte outside the
// supported set.
type UnknownTagError struct {
	Tag byte
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("packer: unknown type tag 0x%02x", e.Tag)
}

// UnknownCompressionError is returned when the frame's compression code is
// not recognized.
type UnknownCompressionError struct {
	Code byte
}

func (e *UnknownCompressionError) Error() string {
	return fmt.Sprintf("packer: unknown compression code 0x%02x", e.Code)
}

// UnsupportedTypeError is returned when a value cannot be represented in the
// frame format.
type UnsupportedTypeError struct {
	Value interface{}
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("packer: unsupported type %T", e.Value)
}

// Marshal encodes v into a frame with the given compression.
func Marshal(v interface{}, c Compression) ([]byte, error) {
	var payload bytes.Buffer
	if err := encodeValue(&payload, v); err != nil {
		return nil, err
	}

	out := bytes.NewBuffer([]byte{byte(c)})
	switch c {
	case CompressionNone:
		out.Write(payload.Bytes())
	case CompressionZlib:
		zw := zlib.NewWriter(out)
		if _, err := zw.Write(payload.Bytes()); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case CompressionGzip:
		gw := gzip.NewWriter(out)
		if _, err := gw.Write(payload.Bytes()); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, &UnknownCompressionError{Code: byte(c)}
	}
	return out.Bytes(), nil
}

// Unmarshal decodes a frame produced by Marshal. Decoded values use the
// types: nil, map[interface{}]interface{}, string, int64, float64,
// []interface{}, bool, time.Time.
func Unmarshal(frame []byte) (interface{}, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("packer: empty frame")
	}

	var payload io.Reader = bytes.NewReader(frame[1:])
	switch Compression(frame[0]) {
	case CompressionNone:
	case CompressionZlib:
		zr, err := zlib.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("packer: zlib: %w", err)
		}
		defer zr.Close()
		payload = zr
	case CompressionGzip:
		gr, err := gzip.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("packer: gzip: %w", err)
		}
		defer gr.Close()
		payload = gr
	default:
		return nil, &UnknownCompressionError{Code: frame[0]}
	}

	r := bufferedReader(payload)
	v, err := decodeValue(r)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func bufferedReader(r io.Reader) *bytes.Reader {
	if br, ok := r.(*bytes.Reader); ok {
		return br
	}
	data, _ := io.ReadAll(r)
	return bytes.NewReader(data)
}

func writeU32(w *bytes.Buffer, n int) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	w.Write(buf[:])
}

func encodeValue(w *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		w.WriteByte(tagNull)
	case bool:
		w.WriteByte(tagBool)
		if val {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	case string:
		w.WriteByte(tagString)
		writeU32(w, len(val))
		w.WriteString(val)
	case int:
		return encodeInt(w, int64(val))
	case int32:
		return encodeInt(w, int64(val))
	case int64:
		return encodeInt(w, val)
	case float32:
		return encodeFloat(w, float64(val))
	case float64:
		return encodeFloat(w, val)
	case time.Time:
		w.WriteByte(tagDatetime)
		var buf [8]byte
		sec := float64(val.UnixNano()) / float64(time.Second)
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(sec))
		w.Write(buf[:])
	case []interface{}:
		w.WriteByte(tagList)
		writeU32(w, len(val))
		for _, item := range val {
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
	case map[interface{}]interface{}:
		w.WriteByte(tagMap)
		writeU32(w, len(val))
		for k, item := range val {
			if err := encodeValue(w, k); err != nil {
				return err
			}
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		w.WriteByte(tagMap)
		writeU32(w, len(val))
		for k, item := range val {
			if err := encodeValue(w, k); err != nil {
				return err
			}
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
	default:
		return &UnsupportedTypeError{Value: v}
	}
	return nil
}

func encodeInt(w *bytes.Buffer, n int64) error {
	w.WriteByte(tagInt)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	w.Write(buf[:])
	return nil
}

func encodeFloat(w *bytes.Buffer, f float64) error {
	w.WriteByte(tagFloat)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	w.Write(buf[:])
	return nil
}

func decodeValue(r *bytes.Reader) (interface{}, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("packer: truncated payload: %w", err)
	}

	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("packer: truncated bool: %w", err)
		}
		return b != 0, nil
	case tagString:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("packer: truncated string: %w", err)
		}
		return string(buf), nil
	case tagInt:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("packer: truncated int: %w", err)
		}
		return int64(binary.LittleEndian.Uint64(buf[:])), nil
	case tagFloat:
		f, err := readF64(r)
		if err != nil {
			return nil, err
		}
		return f, nil
	case tagDatetime:
		sec, err := readF64(r)
		if err != nil {
			return nil, err
		}
		whole, frac := math.Modf(sec)
		return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
	case tagList:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		list := make([]interface{}, 0, n)
		for i := uint32(0); i < n; i++ {
			item, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	case tagMap:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		m := make(map[interface{}]interface{}, n)
		for i := uint32(0); i < n; i++ {
			k, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			// Keys are restricted to comparable decoded forms; a LIST or
			// MAP key would panic on map insert.
			switch k.(type) {
			case nil, bool, int64, float64, string, time.Time:
			default:
				return nil, &UnsupportedTypeError{Value: k}
			}
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	default:
		return nil, &UnknownTagError{Tag: tag}
	}
}

func readU32(r *bytes.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("packer: truncated length: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readF64(r *bytes.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("packer: truncated float: %w", err)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}
