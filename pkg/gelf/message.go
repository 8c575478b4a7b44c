package gelf

import "encoding/json"

// Message represents a single GELF record. Senders may omit any field, so
// every named field is optional. Top-level keys that do not map to a named
// field are preserved verbatim in Additional.
type Message struct {
	Version      *string        `json:"version,omitempty"`
	Host         *string        `json:"host,omitempty"`
	ShortMessage *string        `json:"short_message,omitempty"`
	FullMessage  *string        `json:"full_message,omitempty"`
	Timestamp    *float64       `json:"timestamp,omitempty"`
	Level        *uint8         `json:"level,omitempty"`
	Facility     *string        `json:"facility,omitempty"`
	Line         *uint32        `json:"line,omitempty"`
	File         *string        `json:"file,omitempty"`
	Additional   map[string]any `json:"-"`
}

// Envelope is the projection of a stored record handed to live subscribers
// and query responses: the message plus the server reception time in epoch
// seconds. The raw payload text is not part of it.
type Envelope struct {
	Message    Message
	ReceivedAt float64
}

// UnmarshalJSON decodes a GELF object. Unrecognized keys land in Additional;
// a recognized key whose value has the wrong type fails the whole decode.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = Message{}
	for key, raw := range fields {
		var err error
		switch key {
		case "version":
			err = json.Unmarshal(raw, &m.Version)
		case "host":
			err = json.Unmarshal(raw, &m.Host)
		case "short_message":
			err = json.Unmarshal(raw, &m.ShortMessage)
		case "full_message":
			err = json.Unmarshal(raw, &m.FullMessage)
		case "timestamp":
			err = json.Unmarshal(raw, &m.Timestamp)
		case "level":
			err = json.Unmarshal(raw, &m.Level)
		case "facility":
			err = json.Unmarshal(raw, &m.Facility)
		case "line":
			err = json.Unmarshal(raw, &m.Line)
		case "file":
			err = json.Unmarshal(raw, &m.File)
		default:
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return err
			}
			if m.Additional == nil {
				m.Additional = make(map[string]any)
			}
			m.Additional[key] = value
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON flattens Additional back to the top level alongside the named
// fields, so a decode/encode round trip preserves the original object shape.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Additional)+9)
	for key, value := range m.Additional {
		out[key] = value
	}
	m.mergeInto(out)
	return json.Marshal(out)
}

// MarshalJSON flattens the message fields and appends received_at, matching
// the shape clients see on the query and stream endpoints.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Message.Additional)+10)
	for key, value := range e.Message.Additional {
		out[key] = value
	}
	e.Message.mergeInto(out)
	out["received_at"] = e.ReceivedAt
	return json.Marshal(out)
}

// mergeInto writes the named fields that are set. Named fields win over an
// additional field with the same key.
func (m Message) mergeInto(out map[string]any) {
	if m.Version != nil {
		out["version"] = *m.Version
	}
	if m.Host != nil {
		out["host"] = *m.Host
	}
	if m.ShortMessage != nil {
		out["short_message"] = *m.ShortMessage
	}
	if m.FullMessage != nil {
		out["full_message"] = *m.FullMessage
	}
	if m.Timestamp != nil {
		out["timestamp"] = *m.Timestamp
	}
	if m.Level != nil {
		out["level"] = *m.Level
	}
	if m.Facility != nil {
		out["facility"] = *m.Facility
	}
	if m.Line != nil {
		out["line"] = *m.Line
	}
	if m.File != nil {
		out["file"] = *m.File
	}
}
