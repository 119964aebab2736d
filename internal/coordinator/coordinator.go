// Package coordinator drives the two-phase commit protocol described in
// spec.md §4.2 across the three fixed stakeholders (bank, airline, hotel).
// One Coordinator per leader peer owns the coordinator UDP socket, an
// in-memory transaction log, and a per-round response tally guarded by a
// sharedcell.Cell.
package coordinator

import (
	"log"
	"net"
	"time"

	"github.com/distribuidos-payments/payment-dispatcher/internal/sharedcell"
	"github.com/distribuidos-payments/payment-dispatcher/internal/topology"
	"github.com/distribuidos-payments/payment-dispatcher/internal/wire"
)

// Timeout is T_s, the broadcast-and-wait wait (spec.md §4.2, §5).
const Timeout = 5 * time.Second

// TxState is the transaction log's value type (spec.md §3).
type TxState int

const (
	Wait TxState = iota
	Committed
	Aborted
)

// Payment is the in-memory payment record (spec.md §3). Line is the
// monotonic record index used as the transaction id.
type Payment struct {
	Line    uint64
	Bank    int32
	Airline int32
	Hotel   int32
}

func (p Payment) amount(service int) int32 {
	switch service {
	case topology.Bank:
		return p.Bank
	case topology.Airline:
		return p.Airline
	case topology.Hotel:
		return p.Hotel
	default:
		panic("coordinator: unknown stakeholder")
	}
}

// tally is the per-round response slot set: sharedcell.Cell stores and
// returns its value by copy, so the tally is a fixed-size array rather than
// a slice, whose copies would share one backing array (spec.md §3: "a
// vector of length S of Option<TxState>").
type tally [topology.StakeholderCount]*TxState

func freshTally() tally {
	return tally{}
}

func (t tally) allPresent() bool {
	for _, s := range t {
		if s == nil {
			return false
		}
	}
	return true
}

func (t tally) allEqual(expected wire.TxState) bool {
	for _, s := range t {
		if s == nil || toWireState(*s) != expected {
			return false
		}
	}
	return true
}

func toWireState(s TxState) wire.TxState {
	switch s {
	case Committed:
		return wire.Commit
	case Aborted:
		return wire.Abort
	default:
		panic("coordinator: no wire representation for Wait")
	}
}

// Coordinator is a single-peer 2PC driver. Concurrent Submit calls for
// different transaction ids are not supported: the Main Driver invokes
// Submit serially (spec.md §4.2 "Ordering").
type Coordinator struct {
	id   int
	conn *net.UDPConn

	log      map[int32]TxState // single-writer: only Submit's goroutine mutates this.
	response *sharedcell.Cell[tally]

	logPrefix string
}

// New binds the coordinator socket for peer id and starts its responder
// goroutine.
func New(id int) (*Coordinator, error) {
	addr, err := net.ResolveUDPAddr("udp", topology.CoordinatorAddr(id))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		id:        id,
		conn:      conn,
		log:       make(map[int32]TxState),
		response:  sharedcell.New(freshTally()),
		logPrefix: "[COORDINATOR]",
	}

	go c.responder()

	return c, nil
}

// Submit drives transaction t for payment r, per the table in spec.md §4.2:
//
//	absent or Wait -> full protocol (prepare then commit-or-abort)
//	Commit         -> re-send commit round
//	Abort          -> re-send abort round, always returns false
//
// On the commit path the returned bool is true iff every stakeholder
// acknowledged the commit. On the full protocol's abort path it is the
// inverse of the abort round's success, so a cleanly acknowledged abort
// reports false. Submit is idempotent with respect to the log's terminal
// state.
func (c *Coordinator) Submit(t int32, r Payment) bool {
	switch state, ok := c.log[t]; {
	case !ok, state == Wait:
		return c.fullProtocol(t, r)
	case state == Committed:
		return c.commit(t, r)
	case state == Aborted:
		c.abort(t, r)
		return false
	default:
		panic("coordinator: unreachable transaction state")
	}
}

func (c *Coordinator) fullProtocol(t int32, r Payment) bool {
	if c.prepare(t, r) {
		return c.commit(t, r)
	}
	return c.abort(t, r)
}

func (c *Coordinator) prepare(t int32, r Payment) bool {
	c.log[t] = Wait
	log.Printf("%s prepare %d", c.logPrefix, t)
	return c.broadcastAndWait(wire.Prepare, t, r, wire.Commit)
}

func (c *Coordinator) commit(t int32, r Payment) bool {
	c.log[t] = Committed
	log.Printf("%s commit %d", c.logPrefix, t)
	return c.broadcastAndWait(wire.Commit, t, r, wire.Commit)
}

func (c *Coordinator) abort(t int32, r Payment) bool {
	c.log[t] = Aborted
	log.Printf("%s abort %d", c.logPrefix, t)
	// Abort's returned value is the logical inverse of broadcast success
	// (spec.md §4.2): all stakeholders acknowledging the abort means the
	// payment did not go through, so Submit must report false.
	return !c.broadcastAndWait(wire.Abort, t, r, wire.Abort)
}

// broadcastAndWait implements the single primitive all three phases use
// (spec.md §4.2): reset the tally, send one frame per stakeholder, wait up
// to Timeout for every slot to fill, then compare against expected. On
// timeout, success is assumed only when expected is Abort (silence is
// conservative but keeps the protocol progressing; spec.md §9 fixes this
// choice explicitly over the alternative "always false on timeout").
func (c *Coordinator) broadcastAndWait(tag wire.TxState, t int32, r Payment, expected wire.TxState) bool {
	c.response.Set(freshTally())

	for service := 0; service < topology.StakeholderCount; service++ {
		msg := wire.Transaction{
			State:         tag,
			TransactionID: t,
			Amount:        r.amount(service),
			Service:       int32(service),
		}
		frame := msg.Serialize()

		log.Printf("%s sending %c id %d to %s", c.logPrefix, tag, t, topology.StakeholderName(service))

		addr, err := net.ResolveUDPAddr("udp", topology.StakeholderAddr(service))
		if err != nil {
			log.Printf("%s resolve stakeholder %d: %v", c.logPrefix, service, err)
			continue
		}
		if _, err := c.conn.WriteToUDP(frame[:], addr); err != nil {
			log.Printf("%s send to stakeholder %d: %v", c.logPrefix, service, err)
		}
	}

	final, ok := c.response.WaitUntilTimeout(tally.allPresent, Timeout)
	if !ok {
		log.Printf("%s timeout %d", c.logPrefix, t)
		return expected == wire.Abort
	}
	return final.allEqual(expected)
}

// responder owns the coordinator socket's receive side.
func (c *Coordinator) responder() {
	buf := make([]byte, wire.TransactionSize)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		log.Printf("%s received %d bytes from %s", c.logPrefix, n, from)

		txn, err := wire.DeserializeTransaction(buf[:n])
		if err != nil {
			log.Printf("%s malformed reply: %v", c.logPrefix, err)
			continue
		}

		switch txn.State {
		case wire.Commit, wire.Abort:
			var s TxState
			if txn.State == wire.Commit {
				log.Printf("%s received COMMIT from %d", c.logPrefix, txn.Service)
				s = Committed
			} else {
				log.Printf("%s received ABORT from %d", c.logPrefix, txn.Service)
				s = Aborted
			}
			c.response.Update(func(tl tally) tally {
				if txn.Service >= 0 && int(txn.Service) < len(tl) {
					tl[txn.Service] = &s
				}
				return tl
			})
		default:
			log.Printf("%s ??? %d", c.logPrefix, txn.Service)
		}
	}
}

// Close shuts down the coordinator socket.
func (c *Coordinator) Close() error {
	return c.conn.Close()
}
