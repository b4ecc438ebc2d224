// Package discovery finds the members of a CAN bus segment emulated over UDP.
//
// Every node on a segment advertises a DNS-SD service of type
// _uavcan-can._udp whose TXT records name the segment and carry the node ID.
// Peers browse for the service and add each other as UDP bus peers.
package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/uavcan/pkg/transfer"
)

const (
	// ServiceBus is the DNS-SD service type of a bus segment member.
	ServiceBus = "_uavcan-can._udp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// DefaultPort is the default UDP port of a segment member.
	DefaultPort = 9382

	// MaxBusNameLength bounds the segment name so it fits one TXT string.
	MaxBusNameLength = 63

	// TXTVersion is the TXT layout version written by this package.
	TXTVersion = 1
)

// TXT record keys.
const (
	TXTKeyBus     = "bus"
	TXTKeyNodeID  = "nid"
	TXTKeyVersion = "txtvers"
)

// SegmentTXT is the TXT record content of a segment member.
type SegmentTXT struct {
	// Bus is the segment name. Only members of the same segment talk.
	Bus string

	// NodeID is the member's node ID, or NodeIDBroadcast while passive.
	NodeID transfer.NodeID

	// Version is the TXT layout version.
	Version int
}

// Validate checks the record.
func (s *SegmentTXT) Validate() error {
	if s.Bus == "" || len(s.Bus) > MaxBusNameLength || strings.ContainsAny(s.Bus, "= ") {
		return ErrInvalidBusName
	}
	if !s.NodeID.Valid() {
		return fmt.Errorf("%w: node ID %d", ErrInvalidTXTRecord, s.NodeID)
	}
	return nil
}

// Encode returns the TXT strings.
func (s *SegmentTXT) Encode() []string {
	v := s.Version
	if v == 0 {
		v = TXTVersion
	}
	return []string{
		TXTKeyVersion + "=" + strconv.Itoa(v),
		TXTKeyBus + "=" + s.Bus,
		TXTKeyNodeID + "=" + strconv.Itoa(int(s.NodeID)),
	}
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseSegmentTXT parses raw TXT records. A missing node ID means passive.
func ParseSegmentTXT(records []string) (*SegmentTXT, error) {
	m := ParseTXT(records)
	txt := &SegmentTXT{Bus: m[TXTKeyBus], Version: TXTVersion}

	if v, ok := m[TXTKeyVersion]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVersion, v)
		}
		txt.Version = n
	}

	if v, ok := m[TXTKeyNodeID]; ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyNodeID, v)
		}
		txt.NodeID = transfer.NodeID(n)
	}

	if err := txt.Validate(); err != nil {
		return nil, err
	}
	return txt, nil
}
