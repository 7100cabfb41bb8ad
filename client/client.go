// Package client implements the tracker's client side: registering this
// machine's addresses under its key and resolving other identities.
package client

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"time"

	"mimir_tracker/keys"
	"mimir_tracker/tracker/protocol"
)

const (
	requestTimeout = 2 * time.Second
	requestRetries = 3
)

var ErrNotIPv6 = errors.New("address is not ipv6")

// Client talks to a single tracker over UDP. Requests are retried on
// timeout since datagrams may be lost in either direction.
type Client struct {
	trackerAddr string
	timeout     time.Duration
	retries     int
}

// New creates a client for the tracker at trackerAddr ("host:port").
func New(trackerAddr string) *Client {
	return &Client{
		trackerAddr: trackerAddr,
		timeout:     requestTimeout,
		retries:     requestRetries,
	}
}

// Register announces addr under the identity of key and returns the TTL
// granted by the tracker. The signature sent with the record covers the
// raw address bytes, so only the key holder can register addresses for
// its identity.
func (c *Client) Register(key keys.PrivateKey, addr netip.Addr, port uint16, priority uint8, clientTag uint32) (uint64, error) {
	if !addr.Is6() || addr.Is4In6() {
		return 0, ErrNotIPv6
	}

	b := addr.As16()
	nonce := rand.Uint32()
	pkt := protocol.EncodeRegisterRequest(nonce, key.PublicKey(), protocol.RegisterPayload{
		Port:      port,
		Priority:  priority,
		ClientTag: clientTag,
		Address:   b,
		Signature: [keys.SignatureLen]byte(key.Sign(b[:])),
	})

	resp, err := c.roundTrip(nonce, pkt)
	if err != nil {
		return 0, err
	}

	_, ttl, err := protocol.DecodeRegisterResponse(resp)
	if err != nil {
		return 0, fmt.Errorf("failed to decode register response: %w", err)
	}

	return ttl, nil
}

// Resolve returns the records the tracker currently holds for identity.
// An unknown identity is not an error; it resolves to no records.
func (c *Client) Resolve(identity keys.PublicKey) ([]protocol.AddressRecord, error) {
	nonce := rand.Uint32()
	pkt := protocol.EncodeResolveRequest(nonce, identity)

	resp, err := c.roundTrip(nonce, pkt)
	if err != nil {
		return nil, err
	}

	_, records, err := protocol.DecodeResolveResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode resolve response: %w", err)
	}

	return records, nil
}

// roundTrip sends pkt and waits for a datagram echoing nonce. Datagrams
// with a different nonce are stale replies to an earlier attempt and are
// skipped without consuming the attempt.
func (c *Client) roundTrip(nonce uint32, pkt []byte) ([]byte, error) {
	conn, err := net.Dial("udp", c.trackerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial tracker: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, protocol.MaxPacketSize)
	var lastErr error
	for i := 0; i < c.retries; i++ {
		if _, err := conn.Write(pkt); err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}

		conn.SetReadDeadline(time.Now().Add(c.timeout))
		for {
			n, err := conn.Read(buf)
			if err != nil {
				var nerr net.Error
				if errors.As(err, &nerr) && nerr.Timeout() {
					lastErr = err
					break
				}
				return nil, fmt.Errorf("failed to read response: %w", err)
			}
			if n >= 4 && binary.BigEndian.Uint32(buf[0:4]) == nonce {
				return buf[:n], nil
			}
		}
	}

	return nil, fmt.Errorf("no response from tracker after %d attempts: %w", c.retries, lastErr)
}
