// Package iperfapi provides a client for the remote iperf test service
// exposed by the Mininet testbed (start, stop and restart endpoints).
package iperfapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol is the layer 4 protocol used for a test
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// Protocols lists the supported protocols in display order
var Protocols = []Protocol{ProtocolTCP, ProtocolUDP}

// ParseProtocol converts user input to a Protocol
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToUpper(strings.TrimSpace(s))) {
	case ProtocolTCP:
		return ProtocolTCP, nil
	case ProtocolUDP:
		return ProtocolUDP, nil
	}
	return "", fmt.Errorf("invalid protocol: %q", s)
}

// Valid reports whether p is a supported protocol
func (p Protocol) Valid() bool {
	return p == ProtocolTCP || p == ProtocolUDP
}

// StartRequest is the body of a start request
type StartRequest struct {
	Address  string   `json:"ip_dest"`
	Rate     string   `json:"src_rate"`
	Protocol Protocol `json:"l4_proto"`
}

// StartResponse is returned by the start endpoint.
// Output is nil when the service did not include one (error responses).
type StartResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Output  *Output `json:"output"`

	StatusCode int `json:"-"`
}

// StopResponse is returned by the stop endpoint
type StopResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`

	StatusCode int `json:"-"`
}

// RestartResponse is returned by the restart endpoint.
// Exactly one of Status or Error is normally set.
type RestartResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`

	StatusCode int `json:"-"`
}

// OutputKind discriminates the two shapes of a test output
type OutputKind int

const (
	OutputText OutputKind = iota
	OutputRecords
)

// Field is one named value of a result record
type Field struct {
	Name  string
	Value string
}

// Record is one result row, fields kept in wire order
type Record struct {
	Fields []Field
}

// Get returns the value of the named field
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Output is the test output: either structured records or raw text
type Output struct {
	Kind    OutputKind
	Records []Record
	Text    string
}

// TextOutput builds a text output
func TextOutput(text string) Output {
	return Output{Kind: OutputText, Text: text}
}

// RecordsOutput builds a records output
func RecordsOutput(records ...Record) Output {
	return Output{Kind: OutputRecords, Records: records}
}

// UnmarshalJSON decodes either a list of objects or any other value.
// Anything that is not a list is kept verbatim as text.
func (o *Output) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		*o = TextOutput(formatValue(data))
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode output records: %w", err)
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return fmt.Errorf("decode output record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	*o = RecordsOutput(records...)
	return nil
}

// decodeRecord walks an object token by token to keep key order.
// Non-object entries yield an empty record.
func decodeRecord(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Record{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Record{}, nil
	}

	var rec Record
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, err
		}
		name, ok := tok.(string)
		if !ok {
			return Record{}, fmt.Errorf("unexpected key token %v", tok)
		}

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return Record{}, err
		}

		// A repeated key keeps its first position and its last value
		if i, seen := index[name]; seen {
			rec.Fields[i].Value = formatValue(val)
			continue
		}
		index[name] = len(rec.Fields)
		rec.Fields = append(rec.Fields, Field{Name: name, Value: formatValue(val)})
	}
	return rec, nil
}

// formatValue renders a JSON value for display: strings unquoted,
// everything else as compact JSON text.
func formatValue(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
