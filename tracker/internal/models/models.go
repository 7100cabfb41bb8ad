package models

import (
	"net/netip"
	"time"

	"mimir_tracker/keys"
)

// AddressRecord is one row of the clients table: a single (identity,
// address) registration. The pair (Identity, Address) is the composite
// key; one identity may hold several live addresses.
type AddressRecord struct {
	Identity  keys.PublicKey
	Address   netip.Addr
	Signature [64]byte
	Port      uint16
	Priority  uint8
	ClientTag uint32

	// Set by the store on every successful write.
	RegisteredAt time.Time
	TTLSeconds   uint64
}

// Live reports whether the record has not expired at now. Expired rows are
// never deleted; reads filter them with this check.
func (r AddressRecord) Live(now time.Time) bool {
	return now.Unix() <= r.RegisteredAt.Unix()+int64(r.TTLSeconds)
}
