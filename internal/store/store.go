// Package store holds the records of a capture session.
package store

import "codeberg.org/mutker/pdctl/internal/pd"

const (
	DefaultProtocolCap    = 500
	DefaultMeasurementCap = 2000
)

type Config struct {
	ProtocolCap    int
	MeasurementCap int
}

func DefaultConfig() Config {
	return Config{
		ProtocolCap:    DefaultProtocolCap,
		MeasurementCap: DefaultMeasurementCap,
	}
}

// Stats are the visible/total counters per stream
type Stats struct {
	ProtocolVisible    int `json:"protocol_visible"`
	ProtocolTotal      int `json:"protocol_total"`
	MeasurementVisible int `json:"measurement_visible"`
	MeasurementTotal   int `json:"measurement_total"`
}

// Store is owned by a single goroutine and is not safe for concurrent use.
type Store struct {
	Protocol    *Buffer[Record]
	Measurement *Buffer[Record]

	currentPDOs []pd.PDOEntry
	cable       []pd.CableRow
}

func New(cfg Config) *Store {
	if cfg.ProtocolCap <= 0 {
		cfg.ProtocolCap = DefaultProtocolCap
	}
	if cfg.MeasurementCap <= 0 {
		cfg.MeasurementCap = DefaultMeasurementCap
	}

	return &Store{
		Protocol:    NewBuffer[Record](cfg.ProtocolCap),
		Measurement: NewBuffer[Record](cfg.MeasurementCap),
	}
}

// Add routes records to their stream buffer
func (s *Store) Add(records ...Record) {
	for _, r := range records {
		if r.Kind == KindMeasurement {
			s.Measurement.Append(r)
		} else {
			s.Protocol.Append(r)
		}
	}
}

// SetCurrentPDOs replaces the latest capability list, even with an empty one
func (s *Store) SetCurrentPDOs(entries []pd.PDOEntry) {
	s.currentPDOs = append([]pd.PDOEntry(nil), entries...)
}

func (s *Store) CurrentPDOs() []pd.PDOEntry {
	return append([]pd.PDOEntry(nil), s.currentPDOs...)
}

// SetCable replaces the cable identity rows. Empty input is ignored.
func (s *Store) SetCable(rows []pd.CableRow) {
	if len(rows) == 0 {
		return
	}
	s.cable = append([]pd.CableRow(nil), rows...)
}

func (s *Store) Cable() []pd.CableRow {
	return append([]pd.CableRow(nil), s.cable...)
}

func (s *Store) Stats() Stats {
	return Stats{
		ProtocolVisible:    s.Protocol.VisibleLen(),
		ProtocolTotal:      s.Protocol.Len(),
		MeasurementVisible: s.Measurement.VisibleLen(),
		MeasurementTotal:   s.Measurement.Len(),
	}
}

// Clear drops all records and panels
func (s *Store) Clear() {
	s.Protocol.Reset()
	s.Measurement.Reset()
	s.currentPDOs = nil
	s.cable = nil
}

// Replace clears the store and loads records, e.g. from an import.
func (s *Store) Replace(records []Record) {
	s.Clear()
	s.Add(records...)
}

// MaxIndex returns the highest protocol and measurement index held
func (s *Store) MaxIndex() (protocol, measurement uint64) {
	for _, r := range s.Protocol.All() {
		protocol = max(protocol, r.Index)
	}
	for _, r := range s.Measurement.All() {
		measurement = max(measurement, r.Index)
	}

	return protocol, measurement
}
