// Package records provides the payment record source the Main Driver reads
// from. CSV ingestion is an external collaborator per spec.md §1/§6; this
// package supplies a concrete implementation so the driver and its tests
// are runnable end-to-end, grounded on the column shape used by
// original_source/src/main/main.rs's csv::Reader.
package records

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/distribuidos-payments/payment-dispatcher/internal/coordinator"
)

// Source yields payment records in increasing line order and reports the
// total number of records it holds, used by the Main Driver to detect
// completion (spec.md §4.4).
type Source interface {
	// Next returns the next record, or ok=false at end of stream.
	Next() (coordinator.Payment, bool, error)
	// Total reports the number of records in the source.
	Total() int
}

// CSVSource reads payment records from a CSV file with columns
// line,bank,airline,hotel.
type CSVSource struct {
	records []coordinator.Payment
	pos     int
}

// OpenCSV reads every record from path into memory up front, matching the
// teacher's and the original's preference for reading the whole input
// before iterating.
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("records: open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 4

	var out []coordinator.Payment
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("records: read %s: %w", path, err)
		}
		p, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("records: parse row %v: %w", row, err)
		}
		out = append(out, p)
	}

	return &CSVSource{records: out}, nil
}

func parseRow(row []string) (coordinator.Payment, error) {
	line, err := strconv.ParseUint(row[0], 10, 64)
	if err != nil {
		return coordinator.Payment{}, err
	}
	bank, err := strconv.ParseInt(row[1], 10, 32)
	if err != nil {
		return coordinator.Payment{}, err
	}
	airline, err := strconv.ParseInt(row[2], 10, 32)
	if err != nil {
		return coordinator.Payment{}, err
	}
	hotel, err := strconv.ParseInt(row[3], 10, 32)
	if err != nil {
		return coordinator.Payment{}, err
	}
	return coordinator.Payment{
		Line:    line,
		Bank:    int32(bank),
		Airline: int32(airline),
		Hotel:   int32(hotel),
	}, nil
}

// Next returns the next record in the file, or ok=false at end of stream.
func (s *CSVSource) Next() (coordinator.Payment, bool, error) {
	if s.pos >= len(s.records) {
		return coordinator.Payment{}, false, nil
	}
	r := s.records[s.pos]
	s.pos++
	return r, true, nil
}

// Total reports the number of records in the file.
func (s *CSVSource) Total() int {
	return len(s.records)
}

// MemorySource is an in-memory Source, useful for tests and the manual
// (non-distributed) processing path described in spec.md §1.
type MemorySource struct {
	records []coordinator.Payment
	pos     int
}

// NewMemorySource wraps a slice of records as a Source.
func NewMemorySource(records []coordinator.Payment) *MemorySource {
	return &MemorySource{records: records}
}

func (s *MemorySource) Next() (coordinator.Payment, bool, error) {
	if s.pos >= len(s.records) {
		return coordinator.Payment{}, false, nil
	}
	r := s.records[s.pos]
	s.pos++
	return r, true, nil
}

func (s *MemorySource) Total() int {
	return len(s.records)
}
