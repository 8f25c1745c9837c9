// Package pb implements the wire schemas of spec.md §6 by hand, directly on
// protowire's low-level primitives. There is no .proto file and no
// generated code: the schema is small, frozen ("immutable contract" per
// spec.md §6), and this is the closest Go counterpart to the original
// firmware's no_std `micropb`-generated bindings — encode/decode a handful
// of fixed message shapes without pulling in a reflection-based runtime.
package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxUploadEntries bounds one Upload batch, matching the solar monitor's
// batch-boundary behaviour (spec.md §4.7, §8 scenario 5).
const MaxUploadEntries = 12

// Reading is one instantaneous solar-charger sample, already scaled to the
// wire's milli-unit integer representation.
type Reading struct {
	BatteryVoltage int32 // millivolts
	BatteryCurrent int32 // milliamperes
	PanelVoltage   int32 // millivolts
	PanelPower     int32 // watts
	LoadCurrent    int32 // milliamperes
}

const (
	fieldReadingBatteryVoltage protowire.Number = 1
	fieldReadingBatteryCurrent protowire.Number = 2
	fieldReadingPanelVoltage   protowire.Number = 3
	fieldReadingPanelPower     protowire.Number = 4
	fieldReadingLoadCurrent    protowire.Number = 5
)

// appendInt32Field encodes a proto3 "int32" field: a plain (non-zigzag)
// varint of the value sign-extended to 64 bits, exactly as protoc-generated
// code would for this wire type. A zero value is omitted (proto3 default).
func appendInt32Field(buf []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(int64(v)))
	return buf
}

// appendMessageField encodes a length-delimited sub-message.
func appendMessageField(buf []byte, num protowire.Number, payload []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	buf = protowire.AppendVarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// Marshal appends r's int32 fields in field-number order.
func (r Reading) Marshal(buf []byte) []byte {
	buf = appendInt32Field(buf, fieldReadingBatteryVoltage, r.BatteryVoltage)
	buf = appendInt32Field(buf, fieldReadingBatteryCurrent, r.BatteryCurrent)
	buf = appendInt32Field(buf, fieldReadingPanelVoltage, r.PanelVoltage)
	buf = appendInt32Field(buf, fieldReadingPanelPower, r.PanelPower)
	buf = appendInt32Field(buf, fieldReadingLoadCurrent, r.LoadCurrent)
	return buf
}

// UnmarshalReading decodes a Reading message body.
func UnmarshalReading(data []byte) (Reading, error) {
	var r Reading
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Reading{}, fmt.Errorf("pb: Reading: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.VarintType {
			return Reading{}, fmt.Errorf("pb: Reading: field %d: unexpected wire type %d", num, typ)
		}
		raw, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return Reading{}, fmt.Errorf("pb: Reading: field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
		v := int32(int64(raw))
		switch num {
		case fieldReadingBatteryVoltage:
			r.BatteryVoltage = v
		case fieldReadingBatteryCurrent:
			r.BatteryCurrent = v
		case fieldReadingPanelVoltage:
			r.PanelVoltage = v
		case fieldReadingPanelPower:
			r.PanelPower = v
		case fieldReadingLoadCurrent:
			r.LoadCurrent = v
		}
	}
	return r, nil
}

// UploadEntry pairs one Reading with its offset, in seconds, from the
// enclosing Upload's start_timestamp.
type UploadEntry struct {
	OffsetInSeconds int32
	Reading         Reading
}

const (
	fieldUploadEntryOffset  protowire.Number = 1
	fieldUploadEntryReading protowire.Number = 2
)

// Marshal appends e's fields.
func (e UploadEntry) Marshal(buf []byte) []byte {
	buf = appendInt32Field(buf, fieldUploadEntryOffset, e.OffsetInSeconds)
	buf = appendMessageField(buf, fieldUploadEntryReading, e.Reading.Marshal(nil))
	return buf
}

func unmarshalUploadEntry(data []byte) (UploadEntry, error) {
	var e UploadEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return UploadEntry{}, fmt.Errorf("pb: UploadEntry: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldUploadEntryOffset:
			if typ != protowire.VarintType {
				return UploadEntry{}, fmt.Errorf("pb: UploadEntry: offset_in_seconds: unexpected wire type %d", typ)
			}
			raw, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return UploadEntry{}, fmt.Errorf("pb: UploadEntry: offset_in_seconds: %w", protowire.ParseError(n))
			}
			data = data[n:]
			e.OffsetInSeconds = int32(int64(raw))
		case fieldUploadEntryReading:
			if typ != protowire.BytesType {
				return UploadEntry{}, fmt.Errorf("pb: UploadEntry: reading: unexpected wire type %d", typ)
			}
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return UploadEntry{}, fmt.Errorf("pb: UploadEntry: reading: %w", protowire.ParseError(n))
			}
			data = data[n:]
			reading, err := UnmarshalReading(msg)
			if err != nil {
				return UploadEntry{}, err
			}
			e.Reading = reading
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return UploadEntry{}, fmt.Errorf("pb: UploadEntry: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}

// Upload is one batch of up to MaxUploadEntries averaged readings, posted to
// POST {base_url}/api/v2/solar/reading.
type Upload struct {
	StartTimestamp int64
	Entries        []UploadEntry
}

const (
	fieldUploadStartTimestamp protowire.Number = 1
	fieldUploadEntries        protowire.Number = 2
)

// ErrTooManyEntries is returned by Marshal when an Upload exceeds
// MaxUploadEntries.
var ErrTooManyEntries = fmt.Errorf("pb: upload exceeds %d entries", MaxUploadEntries)

// Marshal encodes u. Returns ErrTooManyEntries if u.Entries has more than
// MaxUploadEntries elements, matching the no-allocation, capacity-bounded
// invariant of spec.md §9.
func (u Upload) Marshal() ([]byte, error) {
	if len(u.Entries) > MaxUploadEntries {
		return nil, ErrTooManyEntries
	}
	var buf []byte
	if u.StartTimestamp != 0 {
		buf = protowire.AppendTag(buf, fieldUploadStartTimestamp, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(u.StartTimestamp))
	}
	for _, e := range u.Entries {
		buf = appendMessageField(buf, fieldUploadEntries, e.Marshal(nil))
	}
	return buf, nil
}

// UnmarshalUpload decodes an Upload message.
func UnmarshalUpload(data []byte) (Upload, error) {
	var u Upload
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Upload{}, fmt.Errorf("pb: Upload: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldUploadStartTimestamp:
			if typ != protowire.VarintType {
				return Upload{}, fmt.Errorf("pb: Upload: start_timestamp: unexpected wire type %d", typ)
			}
			raw, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Upload{}, fmt.Errorf("pb: Upload: start_timestamp: %w", protowire.ParseError(n))
			}
			data = data[n:]
			u.StartTimestamp = int64(raw)
		case fieldUploadEntries:
			if typ != protowire.BytesType {
				return Upload{}, fmt.Errorf("pb: Upload: entries: unexpected wire type %d", typ)
			}
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Upload{}, fmt.Errorf("pb: Upload: entries: %w", protowire.ParseError(n))
			}
			data = data[n:]
			if len(u.Entries) >= MaxUploadEntries {
				return Upload{}, ErrTooManyEntries
			}
			entry, err := unmarshalUploadEntry(msg)
			if err != nil {
				return Upload{}, err
			}
			u.Entries = append(u.Entries, entry)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Upload{}, fmt.Errorf("pb: Upload: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return u, nil
}
