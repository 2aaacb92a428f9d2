package cluster

import "encoding/json"

// rawEnvelope is the on-wire shape of one queued event: [context, event, payload]
// per the contract, flattened into a single JSON object for storage in etcd.
type rawEnvelope struct {
	From    NodeKey `json:"from"`
	Type    string  `json:"type"`
	Event   string  `json:"event"`
	Payload []byte  `json:"payload"`
}

func (r rawEnvelope) toEvent() RawEvent {
	return RawEvent{From: r.From, Type: r.Type, Event: r.Event, Payload: r.Payload}
}

func encodeRaw(from NodeKey, evType, event string, payload []byte) rawEnvelope {
	return rawEnvelope{From: from, Type: evType, Event: event, Payload: payload}
}

func encodeQueue(queue []rawEnvelope) string {
	if len(queue) == 0 {
		return "[]"
	}
	data, err := json.Marshal(queue)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeQueue(data []byte) []rawEnvelope {
	var queue []rawEnvelope
	if len(data) == 0 {
		return queue
	}
	_ = json.Unmarshal(data, &queue)
	return queue
}

func jsonMarshalEnvelope(entry rawEnvelope) (string, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func jsonUnmarshalEnvelope(data string) (rawEnvelope, error) {
	var entry rawEnvelope
	err := json.Unmarshal([]byte(data), &entry)
	return entry, err
}
