// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package codec turns version payloads into the byte form stored in the
// record column and back.
//
// The wire form always starts with a presence tag so that an absent payload
// (nil) and an empty payload round-trip as different values.
package codec

import (
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
)

const (
	tagAbsent  byte = 0
	tagPresent byte = 1
)

// ErrCorruptPayload is returned when stored bytes cannot be decoded.
var ErrCorruptPayload = errors.New("corrupt payload encoding")

// Codec serializes record payloads for the backend.
type Codec interface {
	Name() string
	Serialize(record []byte) ([]byte, error)
	Deserialize(data []byte) ([]byte, error)
}

// Raw stores payloads unchanged behind the presence tag.
type Raw struct{}

func (Raw) Name() string { return "raw" }

func (Raw) Serialize(record []byte) ([]byte, error) {
	if record == nil {
		return []byte{tagAbsent}, nil
	}
	out := make([]byte, 0, len(record)+1)
	out = append(out, tagPresent)
	return append(out, record...), nil
}

func (Raw) Deserialize(data []byte) ([]byte, error) {
	body, present, err := splitTag(data)
	if err != nil || !present {
		return nil, err
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// Snappy compresses payloads with snappy block encoding.
type Snappy struct{}

func (Snappy) Name() string { return "snappy" }

func (Snappy) Serialize(record []byte) ([]byte, error) {
	if record == nil {
		return []byte{tagAbsent}, nil
	}
	out := make([]byte, 1, snappy.MaxEncodedLen(len(record))+1)
	out[0] = tagPresent
	return append(out, snappy.Encode(nil, record)...), nil
}

func (Snappy) Deserialize(data []byte) ([]byte, error) {
	body, present, err := splitTag(data)
	if err != nil || !present {
		return nil, err
	}
	out, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "snappy decode"), ErrCorruptPayload)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func splitTag(data []byte) (body []byte, present bool, err error) {
	if len(data) == 0 {
		return nil, false, errors.Wrap(ErrCorruptPayload, "missing presence tag")
	}
	switch data[0] {
	case tagAbsent:
		return nil, false, nil
	case tagPresent:
		return data[1:], true, nil
	default:
		return nil, false, errors.Wrapf(ErrCorruptPayload, "unknown presence tag %#x", data[0])
	}
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "raw":
		return Raw{}, nil
	case "snappy":
		return Snappy{}, nil
	default:
		return nil, errors.Newf("unknown payload codec %q", name)
	}
}

// ToHexString renders serialized bytes as a blob literal for statement logs.
func ToHexString(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}
