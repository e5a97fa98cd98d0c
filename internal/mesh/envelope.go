package mesh

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// The envelope is parsed field-by-field with protowire rather than through
// generated types: the ingester needs a handful of fields from four nested
// messages, and the schema is a stable external contract.

var errMalformed = errors.New("malformed protobuf")

// meshPacket is the subset of the MeshPacket framing the ingester reads.
type meshPacket struct {
	from      uint32
	id        uint32
	decoded   []byte
	encrypted []byte
}

// parseEnvelope extracts the MeshPacket from a ServiceEnvelope.
func parseEnvelope(raw []byte) ([]byte, error) {
	var packet []byte
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, val fieldValue) {
		if num == 1 && typ == protowire.BytesType {
			packet = val.bytes
		}
	})
	if err != nil {
		return nil, err
	}
	if packet == nil {
		return nil, errMalformed
	}
	return packet, nil
}

func parseMeshPacket(raw []byte) (*meshPacket, error) {
	p := &meshPacket{}
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, val fieldValue) {
		switch {
		case num == 1 && typ == protowire.Fixed32Type:
			p.from = val.fixed32
		case num == 4 && typ == protowire.BytesType:
			p.decoded = val.bytes
		case num == 5 && typ == protowire.BytesType:
			p.encrypted = val.bytes
		case num == 6 && typ == protowire.Fixed32Type:
			p.id = val.fixed32
		}
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// parseData extracts (portnum, payload) from a Data message.
func parseData(raw []byte) (uint32, []byte, error) {
	var port uint32
	var payload []byte
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, val fieldValue) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			port = uint32(val.varint)
		case num == 2 && typ == protowire.BytesType:
			payload = val.bytes
		}
	})
	if err != nil {
		return 0, nil, err
	}
	return port, payload, nil
}

func parsePosition(raw []byte) (*Position, error) {
	pos := &Position{}
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, val fieldValue) {
		switch {
		case num == 1 && typ == protowire.Fixed32Type:
			pos.Latitude = float64(int32(val.fixed32)) / 1e7
		case num == 2 && typ == protowire.Fixed32Type:
			pos.Longitude = float64(int32(val.fixed32)) / 1e7
		case num == 3 && typ == protowire.VarintType:
			alt := int32(val.varint)
			if alt != 0 {
				pos.Altitude = &alt
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

func parseNodeInfo(raw []byte) (*NodeInfo, error) {
	info := &NodeInfo{}
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, val fieldValue) {
		switch {
		case num == 2 && typ == protowire.BytesType:
			info.LongName = string(val.bytes)
		case num == 5 && typ == protowire.VarintType:
			info.Hardware = HardwareModelName(uint32(val.varint))
		}
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func parseTelemetry(raw []byte) (*Telemetry, error) {
	tel := &Telemetry{}
	var deviceRaw, envRaw []byte
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, val fieldValue) {
		switch {
		case num == 1 && typ == protowire.Fixed32Type:
			tel.Time = int64(val.fixed32)
		case num == 2 && typ == protowire.BytesType:
			deviceRaw = val.bytes
		case num == 3 && typ == protowire.BytesType:
			envRaw = val.bytes
		}
	})
	if err != nil {
		return nil, err
	}

	if deviceRaw != nil {
		err = walkFields(deviceRaw, func(num protowire.Number, typ protowire.Type, val fieldValue) {
			switch {
			case num == 1 && typ == protowire.VarintType:
				level := uint32(val.varint)
				tel.BatteryLevel = &level
			case num == 2 && typ == protowire.Fixed32Type:
				v := math.Float32frombits(val.fixed32)
				tel.Voltage = &v
			}
		})
		if err != nil {
			return nil, err
		}
	}

	if envRaw != nil {
		err = walkFields(envRaw, func(num protowire.Number, typ protowire.Type, val fieldValue) {
			if typ != protowire.Fixed32Type {
				return
			}
			v := math.Float32frombits(val.fixed32)
			switch num {
			case 1:
				tel.Temperature = &v
			case 2:
				tel.RelativeHumidity = &v
			case 3:
				tel.BarometricPressure = &v
			}
		})
		if err != nil {
			return nil, err
		}
	}

	return tel, nil
}

type fieldValue struct {
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// walkFields iterates every top-level field of a wire-format message,
// invoking visit with the decoded scalar or bytes value.
func walkFields(b []byte, visit func(protowire.Number, protowire.Type, fieldValue)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errMalformed
		}
		b = b[n:]

		var val fieldValue
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return errMalformed
			}
			val.varint = v
			b = b[m:]
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return errMalformed
			}
			val.fixed32 = v
			b = b[m:]
		case protowire.Fixed64Type:
			_, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return errMalformed
			}
			b = b[m:]
			continue
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return errMalformed
			}
			val.bytes = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return errMalformed
			}
			b = b[m:]
			continue
		}
		visit(num, typ, val)
	}
	return nil
}
