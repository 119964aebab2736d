// Package failsink appends business-level payment failures to a text file,
// the external collaborator described in spec.md §6 ("a failed-transactions
// append-only text file with bank,airline,hotel\n lines"). Grounded on
// original_source/src/main/main.rs's get_failed_transactions_file, which
// opens the file for append if it exists and creates it otherwise.
package failsink

import (
	"fmt"
	"log"
	"os"

	"github.com/distribuidos-payments/payment-dispatcher/internal/coordinator"
)

// Sink appends failed payment records to a file.
type Sink struct {
	file *os.File
}

// Open opens path for append, creating it if it does not exist.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failsink: open %s: %w", path, err)
	}
	log.Printf("Failed transactions file ready: %s", path)
	return &Sink{file: f}, nil
}

// Record appends one line, "bank,airline,hotel\n", for a payment that the
// coordinator reported as a business-level failure.
func (s *Sink) Record(p coordinator.Payment) error {
	line := fmt.Sprintf("%d,%d,%d\n", p.Bank, p.Airline, p.Hotel)
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("failsink: write: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	return s.file.Close()
}
