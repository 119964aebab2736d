// Command dispatcher is the Main Driver described in spec.md §4.4: the peer
// process that reads payment records from an external source and, while
// leading, drives each one through the transaction coordinator; while
// following, tracks the leader's progress so it can resume near the right
// position on failover.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/distribuidos-payments/payment-dispatcher/internal/coordinator"
	"github.com/distribuidos-payments/payment-dispatcher/internal/election"
	"github.com/distribuidos-payments/payment-dispatcher/internal/failsink"
	"github.com/distribuidos-payments/payment-dispatcher/internal/records"
	"github.com/distribuidos-payments/payment-dispatcher/internal/replication"
	"github.com/distribuidos-payments/payment-dispatcher/internal/topology"
)

// followerCadence is the pacing sleep between follower cycles (spec.md §4.4).
const followerCadence = 500 * time.Millisecond

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: dispatcher <peer-id>")
	}
	id, err := strconv.Atoi(os.Args[1])
	if err != nil || id < 0 || id >= topology.PeerCount {
		log.Fatalf("invalid peer id %q: must be an integer in [0, %d)", os.Args[1], topology.PeerCount)
	}

	log.Printf("[%d] Start", id)

	topology.LoadOverrides(getEnv("PEERS_CONFIG", "./peers.yaml"))

	source, err := records.OpenCSV(getEnv("RECORDS_PATH", "./resources/payments.csv"))
	if err != nil {
		log.Fatalf("[%d] failed to open records source: %v", id, err)
	}

	sink, err := failsink.Open(getEnv("FAILED_TRANSACTIONS_PATH", "./failed_transactions.csv"))
	if err != nil {
		log.Fatalf("[%d] failed to open failed-transactions sink: %v", id, err)
	}
	defer sink.Close()

	el, err := election.New(id)
	if err != nil {
		log.Fatalf("[%d] failed to start election engine: %v", id, err)
	}
	defer el.Stop()

	coord, err := coordinator.New(id)
	if err != nil {
		log.Fatalf("[%d] failed to start transaction coordinator: %v", id, err)
	}
	defer coord.Close()

	repl, err := replication.New(id)
	if err != nil {
		log.Fatalf("[%d] failed to start progress replicator: %v", id, err)
	}
	defer repl.Close()

	var shuttingDown atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[%d] received signal %v, shutting down...", id, sig)
		shuttingDown.Store(true)
	}()

	d := &driver{
		id:       id,
		source:   source,
		sink:     sink,
		el:       el,
		coord:    coord,
		repl:     repl,
		shutdown: &shuttingDown,
	}
	d.run()

	log.Printf("[%d] exiting", id)
}

type driver struct {
	id     int
	source records.Source
	sink   *failsink.Sink
	el     *election.Election
	coord  *coordinator.Coordinator
	repl   *replication.Replicator

	lastRecord uint64
	shutdown   *atomic.Bool
}

// run is the Main Driver loop (spec.md §4.4): while leading, pull the next
// unprocessed record and submit it; while following, await progress and
// adopt it, forcing a new election on timeout.
func (d *driver) run() {
	for !d.shutdown.Load() {
		if d.el.AmILeader() {
			d.leadOnce()
			if d.lastRecord >= uint64(d.source.Total()) && d.source.Total() > 0 {
				log.Printf("[%d] Reached EOF, last record %d equals total %d, shutting down", d.id, d.lastRecord, d.source.Total())
				return
			}
		} else {
			d.followOnce()
		}
	}
}

func (d *driver) leadOnce() {
	log.Printf("[%d] Im leader", d.id)

	record, ok := d.nextUnprocessed()
	if !ok {
		log.Printf("[%d] Reached EOF", d.id)
		d.repl.PublishProgress(d.lastRecord)
		return
	}

	log.Printf("[%d] Record | line=%d bank=%d airline=%d hotel=%d", d.id, record.Line, record.Bank, record.Airline, record.Hotel)

	payment := coordinator.Payment{Line: record.Line, Bank: record.Bank, Airline: record.Airline, Hotel: record.Hotel}
	successful := d.coord.Submit(int32(record.Line), payment)
	log.Printf("[%d] result was %v", d.id, successful)

	if !successful {
		if err := d.sink.Record(payment); err != nil {
			log.Printf("[%d] error writing to failed-transactions sink: %v", d.id, err)
		}
	}

	d.lastRecord = record.Line
	d.repl.PublishProgress(d.lastRecord)
}

// nextUnprocessed pulls records until it finds one past lastRecord, per
// spec.md §4.4. A read error while skipping is logged and the loop
// continues rather than aborting (spec.md §9's Open Question decision).
func (d *driver) nextUnprocessed() (coordinator.Payment, bool) {
	for {
		record, ok, err := d.source.Next()
		if err != nil {
			log.Printf("[%d] reading record threw error: %v", d.id, err)
			continue
		}
		if !ok {
			return coordinator.Payment{}, false
		}
		if record.Line <= d.lastRecord {
			log.Printf("[%d] skipping already-processed line %d", d.id, record.Line)
			continue
		}
		return record, true
	}
}

func (d *driver) followOnce() {
	log.Printf("[%d] Last time I checked last line was %d", d.id, d.lastRecord)

	leaderID := d.el.GetLeaderID()
	if leaderID == d.id {
		return
	}

	lastRecord, ok := d.repl.AwaitProgress(d.el)
	if !ok {
		d.el.FindNew()
		return
	}
	d.lastRecord = lastRecord
	time.Sleep(followerCadence)

	if d.source.Total() > 0 && d.lastRecord >= uint64(d.source.Total()) {
		log.Printf("[%d] follower reached total record count %d, shutting down", d.id, d.source.Total())
		d.shutdown.Store(true)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
