// Package peer models the trusted coordinator registry. Each remote domain
// has at most one registered coordinator address; inbound messages from a
// domain are only accepted when they originate from that address.
package peer

import "time"

// Peer is the coordinator deployment trusted for a remote domain.
type Peer struct {
	Domain    string    `json:"domain"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
