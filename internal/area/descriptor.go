package area

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"disgb/internal/spatial"
)

// DescriptorEntry is one element of the area descriptor array
type DescriptorEntry struct {
	ResponsibleBroker BrokerInfo  `json:"responsibleBroker" yaml:"responsible_broker"`
	CoveredArea       CoveredArea `json:"coveredArea" yaml:"covered_area"`
}

// CoveredArea holds the geometry text of a descriptor entry. Older descriptors use the WKT key.
type CoveredArea struct {
	GeometryText string `json:"geometryText,omitempty" yaml:"geometry_text,omitempty"`
	WKT          string `json:"WKT,omitempty" yaml:"wkt,omitempty"`
}

// Text returns the geometry text, preferring geometryText over WKT
func (c CoveredArea) Text() string {
	if c.GeometryText != "" {
		return c.GeometryText
	}
	return c.WKT
}

// ReadDescriptor decodes a JSON area descriptor. Every entry is decoded on its own so that
// a type error can be reported with the index of the offending entry.
func ReadDescriptor(data []byte) ([]DescriptorEntry, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Index: -1, Reason: "descriptor is not a JSON array", Err: err}
	}

	entries := make([]DescriptorEntry, 0, len(raw))
	for i, r := range raw {
		var entry DescriptorEntry
		if err := json.Unmarshal(r, &entry); err != nil {
			return nil, &ConfigError{Index: i, Reason: "malformed entry", Err: err}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// WriteDescriptor encodes entries in the descriptor format read by ReadDescriptor
func WriteDescriptor(entries []DescriptorEntry) ([]byte, error) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal area descriptor: %w", err)
	}
	return data, nil
}

// LoadFile reads a descriptor file and loads it for ownBrokerID
func LoadFile(path, ownBrokerID string, opts ...Option) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Index: -1, Reason: fmt.Sprintf("could not read %s", path), Err: err}
	}

	entries, err := ReadDescriptor(data)
	if err != nil {
		return nil, err
	}
	return Load(entries, ownBrokerID, opts...)
}

// EntryFor builds a descriptor entry from a broker area
func EntryFor(a BrokerArea) DescriptorEntry {
	return DescriptorEntry{
		ResponsibleBroker: a.ResponsibleBroker,
		CoveredArea:       CoveredArea{GeometryText: spatial.FormatGeofence(a.CoveredArea)},
	}
}

// BrokerArea validates the entry and parses its geometry
func (e DescriptorEntry) BrokerArea() (BrokerArea, error) {
	if err := e.ResponsibleBroker.Validate(); err != nil {
		return BrokerArea{}, fmt.Errorf("responsibleBroker: %w", err)
	}

	text := e.CoveredArea.Text()
	if text == "" {
		return BrokerArea{}, fmt.Errorf("coveredArea: geometryText is required")
	}

	fence, err := spatial.ParseGeofence(text)
	if err != nil {
		return BrokerArea{}, fmt.Errorf("coveredArea: %w", err)
	}
	return NewBrokerArea(e.ResponsibleBroker, fence), nil
}
