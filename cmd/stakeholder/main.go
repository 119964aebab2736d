// Command stakeholder simulates one of the three fixed external
// participants (bank, airline, hotel) in the two-phase commit protocol.
// Stakeholders are out of scope as a core component (spec.md §1) but are
// needed as a runnable collaborator to exercise the coordinator end to end.
// Grounded on original_source/src/microservice/main.rs.
package main

import (
	"log"
	"math/rand"
	"net"
	"os"
	"strconv"

	"github.com/distribuidos-payments/payment-dispatcher/internal/topology"
	"github.com/distribuidos-payments/payment-dispatcher/internal/wire"
)

// defaultCommitProbability is the odds a never-before-seen transaction
// votes Commit on Prepare, matching the original's gen_bool(0.75).
const defaultCommitProbability = 0.75

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: stakeholder <service-index 0=bank 1=airline 2=hotel>")
	}
	service, err := strconv.Atoi(os.Args[1])
	if err != nil || service < 0 || service >= topology.StakeholderCount {
		log.Fatalf("invalid service index %q", os.Args[1])
	}

	commitProbability := defaultCommitProbability
	if v := os.Getenv("COMMIT_PROBABILITY"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Fatalf("invalid COMMIT_PROBABILITY %q: %v", v, err)
		}
		commitProbability = p
	}

	name := topology.StakeholderName(service)

	addr, err := net.ResolveUDPAddr("udp", topology.StakeholderAddr(service))
	if err != nil {
		log.Fatalf("resolve %s address: %v", name, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		log.Fatalf("bind %s socket: %v", name, err)
	}
	defer conn.Close()

	log.Printf("%s service is up", name)

	s := &stakeholder{
		name:              name,
		service:           int32(service),
		conn:              conn,
		log:               make(map[int32]wire.TxState),
		commitProbability: commitProbability,
	}
	s.serve()
}

type stakeholder struct {
	name              string
	service           int32
	conn              *net.UDPConn
	log               map[int32]wire.TxState
	commitProbability float64
}

func (s *stakeholder) serve() {
	buf := make([]byte, wire.TransactionSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("[%s] receive error: %v", s.name, err)
			continue
		}

		txn, err := wire.DeserializeTransaction(buf[:n])
		if err != nil {
			log.Printf("[%s] malformed frame: %v", s.name, err)
			continue
		}

		var reply wire.Transaction
		switch txn.State {
		case wire.Prepare:
			log.Printf("[%s] received PREPARE for %d", s.name, txn.TransactionID)
			reply = wire.Transaction{TransactionID: txn.TransactionID, Service: s.service, State: s.decide(txn.TransactionID)}
		case wire.Commit:
			log.Printf("[%s] received COMMIT for %d", s.name, txn.TransactionID)
			s.log[txn.TransactionID] = wire.Commit
			reply = wire.Transaction{TransactionID: txn.TransactionID, Service: s.service, State: wire.Commit}
		case wire.Abort:
			log.Printf("[%s] received ABORT for %d", s.name, txn.TransactionID)
			s.log[txn.TransactionID] = wire.Abort
			reply = wire.Transaction{TransactionID: txn.TransactionID, Service: s.service, State: wire.Abort}
		default:
			log.Printf("[%s] ??? %d", s.name, txn.TransactionID)
			continue
		}

		frame := reply.Serialize()
		if _, err := s.conn.WriteToUDP(frame[:], from); err != nil {
			log.Printf("[%s] reply send error: %v", s.name, err)
		}
	}
}

// decide returns this stakeholder's Prepare vote. A transaction id already
// decided keeps its recorded vote (commit votes stay committed, abort votes
// stay aborted); a new one is decided randomly with commitProbability odds
// of voting Commit, matching the original simulator.
func (s *stakeholder) decide(t int32) wire.TxState {
	if state, ok := s.log[t]; ok {
		return state
	}
	state := wire.Abort
	if rand.Float64() < s.commitProbability {
		state = wire.Commit
	}
	s.log[t] = state
	return state
}
