// Package replication implements the Progress Replicator (spec.md §4.3): the
// leader streams its last-processed record index to every follower over the
// data channel, and a follower recovers the leader's identity from the
// first datagram it receives.
package replication

import (
	"log"
	"net"
	"time"

	"github.com/distribuidos-payments/payment-dispatcher/internal/election"
	"github.com/distribuidos-payments/payment-dispatcher/internal/topology"
	"github.com/distribuidos-payments/payment-dispatcher/internal/wire"
)

// FollowerTimeout is the follower's receive timeout (spec.md §5, T_e=20s);
// a follower that times out waiting for progress forces a new election.
const FollowerTimeout = election.Timeout

// Replicator owns the data-channel socket for one peer.
type Replicator struct {
	id   int
	conn *net.UDPConn
}

// New binds the data socket for peer id.
func New(id int) (*Replicator, error) {
	addr, err := net.ResolveUDPAddr("udp", topology.DataAddr(id))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Replicator{id: id, conn: conn}, nil
}

// Close shuts down the data socket.
func (r *Replicator) Close() error {
	return r.conn.Close()
}

// PublishProgress sends the new last-processed record index, plus this
// peer's own id as the leader id, to every other peer's data endpoint
// (spec.md §4.3). Retransmission is not attempted: followers tolerate loss
// by timing out and forcing a new election.
func (r *Replicator) PublishProgress(lastRecord uint64) {
	msg := wire.ProgressMessage{LastRecord: lastRecord, LeaderID: byte(r.id)}
	frame := msg.Serialize()

	for peer := 0; peer < topology.PeerCount; peer++ {
		if peer == r.id {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", topology.DataAddr(peer))
		if err != nil {
			log.Printf("[%d] resolve peer %d data addr: %v", r.id, peer, err)
			continue
		}
		if _, err := r.conn.WriteToUDP(frame[:], addr); err != nil {
			log.Printf("[%d] send progress to peer %d: %v", r.id, peer, err)
			continue
		}
		log.Printf("[%d] Sending to peer %d last record %d", r.id, peer, lastRecord)
	}
}

// AwaitProgress blocks for up to FollowerTimeout for a progress datagram.
// On arrival it returns the new last-processed record index and reports
// true. If the leader identity is not yet known to el (the bootstrap
// sentinel case), it first adopts the sender's declared leader id — falling
// back to the legacy port-digit derivation only if the datagram used the
// older 8-byte frame — via el.SetLeader, per spec.md §4.3/§9. On timeout it
// returns false and the caller is expected to call el.FindNew().
func (r *Replicator) AwaitProgress(el *election.Election) (lastRecord uint64, ok bool) {
	if err := r.conn.SetReadDeadline(time.Now().Add(FollowerTimeout)); err != nil {
		log.Printf("[%d] set data read deadline: %v", r.id, err)
		return 0, false
	}

	buf := make([]byte, wire.ProgressMessageSize)
	n, from, err := r.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, false
	}

	msg, hasLeaderID, err := wire.DeserializeProgressMessage(buf[:n])
	if err != nil {
		log.Printf("[%d] malformed progress datagram: %v", r.id, err)
		return 0, false
	}

	if known, _ := el.LeaderState(); !known {
		var leaderID int
		if hasLeaderID {
			leaderID = int(msg.LeaderID)
		} else {
			leaderID = topology.LeaderIDFromPort(from.Port)
		}
		el.SetLeader(leaderID)
		log.Printf("[%d] Leader is (%d) and last line is %d", r.id, leaderID, msg.LastRecord)
	} else {
		log.Printf("[%d] Received from leader that last line is %d", r.id, msg.LastRecord)
	}

	return msg.LastRecord, true
}
