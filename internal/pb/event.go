package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// EventKind discriminates SystemEvent's oneof, each variant carrying the
// same uptime_seconds payload (spec.md §6).
type EventKind int

const (
	// EventUnknown is the zero value; a SystemEvent should always carry one
	// of the other three kinds.
	EventUnknown EventKind = iota
	EventStartup
	EventOffline
	EventOnline
)

// SystemEvent is posted to POST {base_url}/api/v2/solar/event, one of
// StartupEvent/OfflineEvent/OnlineEvent tagged by Kind (spec.md §4.6, §6).
type SystemEvent struct {
	Timestamp     int64
	Kind          EventKind
	UptimeSeconds uint32
}

const (
	fieldSystemEventTimestamp protowire.Number = 1
	fieldStartupEvent         protowire.Number = 2
	fieldOfflineEvent         protowire.Number = 3
	fieldOnlineEvent          protowire.Number = 4

	fieldSubEventUptimeSeconds protowire.Number = 1
)

func marshalUptimeEvent(uptimeSeconds uint32) []byte {
	if uptimeSeconds == 0 {
		return nil
	}
	var buf []byte
	buf = protowire.AppendTag(buf, fieldSubEventUptimeSeconds, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(uptimeSeconds))
	return buf
}

// Marshal encodes e. Kind must be one of EventStartup/EventOffline/
// EventOnline; for EventUnknown (or any other value) Marshal returns an
// error and no bytes.
func (e SystemEvent) Marshal() ([]byte, error) {
	var buf []byte
	if e.Timestamp != 0 {
		buf = protowire.AppendTag(buf, fieldSystemEventTimestamp, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(e.Timestamp))
	}

	sub := marshalUptimeEvent(e.UptimeSeconds)
	switch e.Kind {
	case EventStartup:
		buf = appendMessageField(buf, fieldStartupEvent, sub)
	case EventOffline:
		buf = appendMessageField(buf, fieldOfflineEvent, sub)
	case EventOnline:
		buf = appendMessageField(buf, fieldOnlineEvent, sub)
	default:
		return nil, fmt.Errorf("pb: SystemEvent: no event kind set")
	}
	return buf, nil
}

func unmarshalUptimeEvent(data []byte) (uint32, error) {
	var uptime uint32
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, fmt.Errorf("pb: event: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num == fieldSubEventUptimeSeconds && typ == protowire.VarintType {
			raw, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, fmt.Errorf("pb: event: uptime_seconds: %w", protowire.ParseError(n))
			}
			data = data[n:]
			uptime = uint32(raw)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return 0, fmt.Errorf("pb: event: %w", protowire.ParseError(n))
		}
		data = data[n:]
	}
	return uptime, nil
}

// UnmarshalSystemEvent decodes a SystemEvent message.
func UnmarshalSystemEvent(data []byte) (SystemEvent, error) {
	var e SystemEvent
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return SystemEvent{}, fmt.Errorf("pb: SystemEvent: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldSystemEventTimestamp:
			if typ != protowire.VarintType {
				return SystemEvent{}, fmt.Errorf("pb: SystemEvent: timestamp: unexpected wire type %d", typ)
			}
			raw, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return SystemEvent{}, fmt.Errorf("pb: SystemEvent: timestamp: %w", protowire.ParseError(n))
			}
			data = data[n:]
			e.Timestamp = int64(raw)
		case fieldStartupEvent, fieldOfflineEvent, fieldOnlineEvent:
			if typ != protowire.BytesType {
				return SystemEvent{}, fmt.Errorf("pb: SystemEvent: event: unexpected wire type %d", typ)
			}
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return SystemEvent{}, fmt.Errorf("pb: SystemEvent: event: %w", protowire.ParseError(n))
			}
			data = data[n:]
			uptime, err := unmarshalUptimeEvent(msg)
			if err != nil {
				return SystemEvent{}, err
			}
			e.UptimeSeconds = uptime
			switch num {
			case fieldStartupEvent:
				e.Kind = EventStartup
			case fieldOfflineEvent:
				e.Kind = EventOffline
			case fieldOnlineEvent:
				e.Kind = EventOnline
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return SystemEvent{}, fmt.Errorf("pb: SystemEvent: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}
