package mesh

// Decoder turns raw ServiceEnvelope bytes into decoded events. A nil key
// disables decryption; encrypted packets are then skipped.
type Decoder struct {
	key []byte
}

// NewDecoder builds a decoder with the AES key derived from the configured
// base64 channel PSK. An empty PSK selects the default channel key.
func NewDecoder(channelKeyB64 string) *Decoder {
	return &Decoder{key: DeriveKey(channelKeyB64)}
}

// Decode parses one raw MQTT payload. It returns (nil, nil) for traffic the
// ingester does not care about: unrecognized ports, packets that fail to
// decrypt, telemetry without a sensor timestamp, and malformed framing.
// Decode never returns an error for hostile input; the error return exists
// for callers that want to count malformed traffic.
func (d *Decoder) Decode(raw []byte) (*Event, error) {
	packetRaw, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	packet, err := parseMeshPacket(packetRaw)
	if err != nil {
		return nil, err
	}

	var dataRaw []byte
	switch {
	case packet.decoded != nil:
		dataRaw = packet.decoded
	case packet.encrypted != nil && d.key != nil:
		plain, ok := decrypt(packet.encrypted, packet.id, packet.from, d.key)
		if !ok {
			return nil, nil
		}
		dataRaw = plain
	default:
		return nil, nil
	}

	port, payload, err := parseData(dataRaw)
	if err != nil {
		// A failed decrypt yields garbage that rarely parses; treat it
		// the same as an undecryptable packet.
		return nil, nil
	}

	ev := &Event{
		NodeID: FormatNodeID(packet.from),
		From:   packet.from,
		Port:   port,
	}

	switch port {
	case PortPosition:
		pos, err := parsePosition(payload)
		if err != nil {
			return nil, nil
		}
		ev.Position = pos
	case PortNodeInfo:
		info, err := parseNodeInfo(payload)
		if err != nil {
			return nil, nil
		}
		ev.NodeInfo = info
	case PortTelemetry:
		tel, err := parseTelemetry(payload)
		if err != nil {
			return nil, nil
		}
		if tel.Time == 0 {
			// Sensor timestamp is mandatory for correlation.
			return nil, nil
		}
		ev.Telemetry = tel
	default:
		return nil, nil
	}

	return ev, nil
}
