package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/distribuidos-payments/payment-dispatcher/internal/topology"
	"github.com/distribuidos-payments/payment-dispatcher/internal/wire"
)

// fakeStakeholder listens on a stakeholder address and replies with a fixed
// decision to Prepare, and echoes Commit/Abort back as acknowledgments.
type fakeStakeholder struct {
	conn    *net.UDPConn
	service int
	decide  wire.TxState // decision to vote on Prepare
	silent  bool         // never reply, to exercise the timeout path
}

func newFakeStakeholder(t *testing.T, service int, decide wire.TxState, silent bool) *fakeStakeholder {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", topology.StakeholderAddr(service))
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeStakeholder{conn: conn, service: service, decide: decide, silent: silent}
	go fs.serve()
	t.Cleanup(func() { conn.Close() })
	return fs
}

func (fs *fakeStakeholder) serve() {
	buf := make([]byte, wire.TransactionSize)
	for {
		n, from, err := fs.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		txn, err := wire.DeserializeTransaction(buf[:n])
		if err != nil {
			continue
		}
		if fs.silent {
			continue
		}
		var reply wire.Transaction
		switch txn.State {
		case wire.Prepare:
			reply = wire.Transaction{State: fs.decide, TransactionID: txn.TransactionID, Service: int32(fs.service)}
		case wire.Commit:
			reply = wire.Transaction{State: wire.Commit, TransactionID: txn.TransactionID, Service: int32(fs.service)}
		case wire.Abort:
			reply = wire.Transaction{State: wire.Abort, TransactionID: txn.TransactionID, Service: int32(fs.service)}
		default:
			continue
		}
		frame := reply.Serialize()
		fs.conn.WriteToUDP(frame[:], from)
	}
}

func newTestCoordinator(t *testing.T, id int) *Coordinator {
	t.Helper()
	c, err := New(id)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSubmitAllCommit(t *testing.T) {
	newFakeStakeholder(t, topology.Bank, wire.Commit, false)
	newFakeStakeholder(t, topology.Airline, wire.Commit, false)
	newFakeStakeholder(t, topology.Hotel, wire.Commit, false)

	c := newTestCoordinator(t, 0)
	ok := c.Submit(1, Payment{Line: 1, Bank: 10, Airline: 20, Hotel: 30})
	if !ok {
		t.Fatal("expected Submit to return true when all stakeholders commit")
	}
	if c.log[1] != Committed {
		t.Fatalf("log[1] = %v, want Committed", c.log[1])
	}
}

func TestSubmitOneAborts(t *testing.T) {
	newFakeStakeholder(t, topology.Bank, wire.Commit, false)
	newFakeStakeholder(t, topology.Airline, wire.Abort, false)
	newFakeStakeholder(t, topology.Hotel, wire.Commit, false)

	c := newTestCoordinator(t, 1)
	ok := c.Submit(2, Payment{Line: 2, Bank: 10, Airline: 20, Hotel: 30})
	if ok {
		t.Fatal("expected Submit to return false when a stakeholder votes abort")
	}
	if c.log[2] != Aborted {
		t.Fatalf("log[2] = %v, want Aborted", c.log[2])
	}
}

func TestSubmitIdempotentReplayCommit(t *testing.T) {
	newFakeStakeholder(t, topology.Bank, wire.Commit, false)
	newFakeStakeholder(t, topology.Airline, wire.Commit, false)
	newFakeStakeholder(t, topology.Hotel, wire.Commit, false)

	c := newTestCoordinator(t, 2)
	r := Payment{Line: 3, Bank: 1, Airline: 2, Hotel: 3}

	first := c.Submit(3, r)
	second := c.Submit(3, r)

	if !first || !second {
		t.Fatalf("expected both submits to return true, got first=%v second=%v", first, second)
	}
	if c.log[3] != Committed {
		t.Fatalf("log[3] = %v, want Committed (must not change on replay)", c.log[3])
	}
}

func TestSubmitIdempotentReplayAbortAlwaysFalse(t *testing.T) {
	newFakeStakeholder(t, topology.Bank, wire.Abort, false)
	newFakeStakeholder(t, topology.Airline, wire.Abort, false)
	newFakeStakeholder(t, topology.Hotel, wire.Abort, false)

	c := newTestCoordinator(t, 3)
	r := Payment{Line: 4, Bank: 1, Airline: 2, Hotel: 3}

	first := c.Submit(4, r)
	second := c.Submit(4, r)

	if first || second {
		t.Fatalf("expected both submits to return false, got first=%v second=%v", first, second)
	}
}

func TestPrepareAllSilentReturnsFalse(t *testing.T) {
	newFakeStakeholder(t, topology.Bank, wire.Commit, true)
	newFakeStakeholder(t, topology.Airline, wire.Commit, true)
	newFakeStakeholder(t, topology.Hotel, wire.Commit, true)

	// broadcastAndWait's timeout is 5s; this test exercises the contract
	// directly with a very short synthetic timeout is not possible without
	// changing the package constant, so we accept the real 5s wait here.
	c := newTestCoordinator(t, 0)
	start := time.Now()
	ok := c.broadcastAndWait(wire.Prepare, 5, Payment{}, wire.Commit)
	if ok {
		t.Fatal("expected broadcastAndWait to report failure when expected=Commit and all stakeholders are silent")
	}
	if elapsed := time.Since(start); elapsed < Timeout {
		t.Fatalf("returned before the timeout elapsed: %v", elapsed)
	}
}

func TestAbortAllSilentReturnsTrue(t *testing.T) {
	newFakeStakeholder(t, topology.Bank, wire.Commit, true)
	newFakeStakeholder(t, topology.Airline, wire.Commit, true)
	newFakeStakeholder(t, topology.Hotel, wire.Commit, true)

	c := newTestCoordinator(t, 1)
	ok := c.broadcastAndWait(wire.Abort, 6, Payment{}, wire.Abort)
	if !ok {
		t.Fatal("expected broadcastAndWait to report success when expected=Abort and all stakeholders are silent")
	}
}
