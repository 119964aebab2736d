// Package wire encodes and decodes the three datagram frames exchanged by
// the dispatcher: the 13-byte transaction message used by the coordinator,
// the election message used by the Bully algorithm, and the progress
// message used by the replicator. All fixed-width fields are packed by
// hand with encoding/binary, matching the byte-for-byte layout in spec.md §6.
package wire

import (
	"encoding/binary"
	"fmt"
)

// TxState is a transaction's protocol state as carried on the wire.
type TxState byte

const (
	Prepare TxState = 'P'
	Commit  TxState = 'C'
	Abort   TxState = 'A'
)

func (s TxState) String() string {
	switch s {
	case Prepare:
		return "Prepare"
	case Commit:
		return "Commit"
	case Abort:
		return "Abort"
	default:
		return fmt.Sprintf("TxState(%q)", byte(s))
	}
}

// TransactionSize is the exact wire size of a Transaction frame.
const TransactionSize = 13

// Transaction is the 2PC wire message exchanged between the coordinator and
// a stakeholder.
//
//	offset 0  (1 byte)  tag:            'P' | 'C' | 'A'
//	offset 1  (4 bytes) transaction id: int32 little-endian
//	offset 5  (4 bytes) amount:         int32 little-endian
//	offset 9  (4 bytes) service:        int32 little-endian
type Transaction struct {
	State         TxState
	TransactionID int32
	Amount        int32
	Service       int32
}

// Serialize packs t into a 13-byte frame.
func (t Transaction) Serialize() [TransactionSize]byte {
	var buf [TransactionSize]byte
	buf[0] = byte(t.State)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(t.TransactionID))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(t.Amount))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(t.Service))
	return buf
}

// DeserializeTransaction unpacks a 13-byte frame into a Transaction. It
// returns an error for an unrecognized tag; callers must log and drop the
// datagram rather than retry (spec.md §7: malformed frames are fatal-class
// but not retried).
func DeserializeTransaction(buf []byte) (Transaction, error) {
	if len(buf) != TransactionSize {
		return Transaction{}, fmt.Errorf("wire: transaction frame must be %d bytes, got %d", TransactionSize, len(buf))
	}
	state := TxState(buf[0])
	switch state {
	case Prepare, Commit, Abort:
	default:
		return Transaction{}, fmt.Errorf("wire: unknown transaction tag %q", buf[0])
	}
	return Transaction{
		State:         state,
		TransactionID: int32(binary.LittleEndian.Uint32(buf[1:5])),
		Amount:        int32(binary.LittleEndian.Uint32(buf[5:9])),
		Service:       int32(binary.LittleEndian.Uint32(buf[9:13])),
	}, nil
}

// ElectionTag identifies a Bully control message.
type ElectionTag byte

const (
	TagElection    ElectionTag = 'E'
	TagOK          ElectionTag = 'O'
	TagCoordinator ElectionTag = 'C'
)

func (tag ElectionTag) String() string {
	switch tag {
	case TagElection:
		return "Election"
	case TagOK:
		return "OK"
	case TagCoordinator:
		return "Coordinator"
	default:
		return fmt.Sprintf("ElectionTag(%q)", byte(tag))
	}
}

// ElectionMessageSize is the exact wire size of an election frame: a 1-byte
// tag followed by the sender id as a native-width (8 byte on 64-bit
// targets) little-endian unsigned integer, per spec.md §6.
const ElectionMessageSize = 1 + 8

// ElectionMessage is a Bully control-channel datagram.
type ElectionMessage struct {
	Tag    ElectionTag
	Sender uint64
}

// Serialize packs m into a 9-byte frame.
func (m ElectionMessage) Serialize() [ElectionMessageSize]byte {
	var buf [ElectionMessageSize]byte
	buf[0] = byte(m.Tag)
	binary.LittleEndian.PutUint64(buf[1:], m.Sender)
	return buf
}

// DeserializeElectionMessage unpacks a 9-byte election frame.
func DeserializeElectionMessage(buf []byte) (ElectionMessage, error) {
	if len(buf) != ElectionMessageSize {
		return ElectionMessage{}, fmt.Errorf("wire: election frame must be %d bytes, got %d", ElectionMessageSize, len(buf))
	}
	tag := ElectionTag(buf[0])
	switch tag {
	case TagElection, TagOK, TagCoordinator:
	default:
		return ElectionMessage{}, fmt.Errorf("wire: unknown election tag %q", buf[0])
	}
	return ElectionMessage{
		Tag:    tag,
		Sender: binary.LittleEndian.Uint64(buf[1:]),
	}, nil
}

// ProgressMessageSize is the wire size of a progress frame: 8 bytes for the
// last-processed record index plus 1 byte for the leader id (spec.md §9's
// redesign of the original 8-byte-only frame, which forced followers to
// guess the leader id from the sender's port digit).
const ProgressMessageSize = 8 + 1

// ProgressMessage is the leader->follower progress-replication datagram.
type ProgressMessage struct {
	LastRecord uint64
	LeaderID   byte
}

// Serialize packs m into a 9-byte frame: last_record as unsigned 64-bit
// big-endian, followed by the leader id.
func (m ProgressMessage) Serialize() [ProgressMessageSize]byte {
	var buf [ProgressMessageSize]byte
	binary.BigEndian.PutUint64(buf[:8], m.LastRecord)
	buf[8] = m.LeaderID
	return buf
}

// DeserializeProgressMessage unpacks a progress frame. It also accepts the
// legacy 8-byte frame (index only, no leader id) for compatibility with the
// sentinel-bootstrap fallback described in spec.md §4.3/§9; callers must
// then derive the leader id from the sender's source port digit themselves.
func DeserializeProgressMessage(buf []byte) (msg ProgressMessage, hasLeaderID bool, err error) {
	switch len(buf) {
	case ProgressMessageSize:
		return ProgressMessage{
			LastRecord: binary.BigEndian.Uint64(buf[:8]),
			LeaderID:   buf[8],
		}, true, nil
	case 8:
		return ProgressMessage{LastRecord: binary.BigEndian.Uint64(buf)}, false, nil
	default:
		return ProgressMessage{}, false, fmt.Errorf("wire: progress frame must be %d or 8 bytes, got %d", ProgressMessageSize, len(buf))
	}
}
