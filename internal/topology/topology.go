// Package topology derives the UDP endpoints each peer and stakeholder binds
// to. The compiled-in addressing scheme follows spec.md §6; an optional
// YAML file can override the three stakeholder endpoints, read the same way
// the teacher's loadWorkersFromCompose reads docker-compose.yml, keeping the
// compiled-in addresses on any error. Peer control, data and coordinator
// addresses always follow the compiled-in pattern.
package topology

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// PeerCount is the fixed cluster size (spec.md §3, N=5).
const PeerCount = 5

// StakeholderCount is the fixed number of 2PC participants (spec.md §4.2, S=3).
const StakeholderCount = 3

// Stakeholder indices, matching the service slot encoded on the wire.
const (
	Bank = iota
	Airline
	Hotel
)

var stakeholderNames = [StakeholderCount]string{"bank", "airline", "hotel"}

// StakeholderName returns the human-readable name for a stakeholder index.
func StakeholderName(service int) string {
	if service < 0 || service >= StakeholderCount {
		return fmt.Sprintf("unknown-stakeholder-%d", service)
	}
	return stakeholderNames[service]
}

// defaultStakeholderAddrs is the compiled-in stakeholder endpoint table
// (spec.md §6).
var defaultStakeholderAddrs = [StakeholderCount]string{
	"127.0.0.1:1111",
	"127.0.0.1:2222",
	"127.0.0.1:3333",
}

// ControlAddr returns peer id's control-channel (election) address.
func ControlAddr(id int) string {
	return fmt.Sprintf("127.0.0.1:1234%d", id)
}

// DataAddr returns peer id's data-channel (progress replication) address.
func DataAddr(id int) string {
	return fmt.Sprintf("127.0.0.1:1235%d", id)
}

// CoordinatorAddr returns peer id's coordinator-channel (2PC) address.
func CoordinatorAddr(id int) string {
	return fmt.Sprintf("127.0.0.1:123%d", id)
}

// StakeholderAddr returns the fixed endpoint for a stakeholder index.
func StakeholderAddr(service int) string {
	if service < 0 || service >= StakeholderCount {
		panic(fmt.Sprintf("topology: unknown stakeholder %d", service))
	}
	return defaultStakeholderAddrs[service]
}

// file is the on-disk shape of an optional peers.yaml override.
type file struct {
	Stakeholders struct {
		Bank    string `yaml:"bank"`
		Airline string `yaml:"airline"`
		Hotel   string `yaml:"hotel"`
	} `yaml:"stakeholders"`
}

// LoadOverrides reads a peers.yaml file and, when present, overrides the
// compiled-in stakeholder endpoints. Absence of the file is not an error:
// callers keep the compiled-in §6 addresses. This mirrors the teacher's
// loadWorkersFromCompose, which logs and continues with defaults when the
// compose file can't be read or parsed.
func LoadOverrides(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("topology: failed to read %s: %v, using compiled-in addresses", path, err)
		}
		return
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		log.Printf("topology: failed to parse %s: %v, using compiled-in addresses", path, err)
		return
	}

	if f.Stakeholders.Bank != "" {
		defaultStakeholderAddrs[Bank] = f.Stakeholders.Bank
	}
	if f.Stakeholders.Airline != "" {
		defaultStakeholderAddrs[Airline] = f.Stakeholders.Airline
	}
	if f.Stakeholders.Hotel != "" {
		defaultStakeholderAddrs[Hotel] = f.Stakeholders.Hotel
	}
	log.Printf("topology: loaded stakeholder overrides from %s", path)
}

// LeaderIDFromPort derives a leader id from the last decimal digit of a
// data-channel source port, per the bootstrap fallback described in
// spec.md §4.3/§9. Used only when a follower's first progress datagram
// carries the legacy 8-byte frame (no embedded leader id).
func LeaderIDFromPort(port int) int {
	return port % 10
}
