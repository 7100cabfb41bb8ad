package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"

	"mimir_tracker/tracker/database"
	"mimir_tracker/tracker/internal/models"
	"mimir_tracker/tracker/protocol"
)

// Server is the tracker's UDP request/response loop. Datagrams are handled
// one at a time, so at most one registration is in flight and the store's
// exists-then-insert-or-update sequence needs no locking. Parallelizing
// the loop would require serializing writes per (identity, address) pair
// first.
type Server struct {
	listenAddr string
	db         database.Service
	conn       *net.UDPConn
}

// NewServer creates a tracker server with the given dependencies. The
// database handle is owned by the caller and closed by the caller.
func NewServer(listenAddr string, db database.Service) *Server {
	return &Server{
		listenAddr: listenAddr,
		db:         db,
	}
}

// Start binds the UDP socket and spawns the receive loop. A bind failure
// is the only fatal error the server has; everything after this survives
// any single datagram.
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("unable to resolve %s: %w", s.listenAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("unable to bind to %s: %w", s.listenAddr, err)
	}
	s.conn = conn

	log.Printf("started on %s", conn.LocalAddr())
	go s.readLoop()
	return nil
}

// LocalAddr returns the bound socket address.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close stops the receive loop by closing the socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) readLoop() {
	buf := make([]byte, protocol.MaxPacketSize)
	for {
		n, src, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("error reading from udp conn: %s", err)
			continue
		}

		resp := s.processPacket(context.Background(), buf[:n], src)
		if resp == nil {
			continue
		}

		if _, err := s.conn.WriteToUDPAddrPort(resp, src); err != nil {
			log.Printf("error sending response to %s: %s", src, err)
		}
	}
}

// processPacket handles one datagram and returns the response bytes, or
// nil when the datagram is dropped. The protocol has no error reply:
// every failure path logs and stays silent on the wire.
func (s *Server) processPacket(ctx context.Context, data []byte, src netip.AddrPort) []byte {
	hdr, rest, err := protocol.DecodeHeader(data)
	if err != nil {
		log.Printf("malformed packet from %s - dropping", src)
		return nil
	}

	log.Printf("got packet from/for %x on %s", hdr.Identity.Raw(), src.Addr())

	switch hdr.Command {
	case protocol.CmdRegister:
		return s.handleRegister(ctx, hdr, rest, src)
	case protocol.CmdResolve:
		return s.handleResolve(ctx, hdr)
	default:
		log.Printf("wrong command %d from %s - dropping", hdr.Command, src.Addr())
		return nil
	}
}

func (s *Server) handleRegister(ctx context.Context, hdr protocol.Header, payload []byte, src netip.AddrPort) []byte {
	req, err := protocol.DecodeRegisterPayload(payload)
	if err != nil {
		log.Printf("malformed register payload from %s - dropping", src)
		return nil
	}

	// Admission gate: the address bytes must be signed by the key the
	// record is filed under. Nothing is written on failure.
	if !hdr.Identity.Verify(req.Address[:], req.Signature[:]) {
		log.Printf("wrong signature from %s for %x - dropping", src, hdr.Identity.Raw())
		return nil
	}

	rec := &models.AddressRecord{
		Identity:  hdr.Identity,
		Address:   netip.AddrFrom16(req.Address),
		Signature: req.Signature,
		Port:      req.Port,
		Priority:  req.Priority,
		ClientTag: req.ClientTag,
	}
	ttl := s.db.SaveAddress(ctx, rec)

	return protocol.EncodeRegisterResponse(hdr.Nonce, ttl)
}

func (s *Server) handleResolve(ctx context.Context, hdr protocol.Header) []byte {
	records, err := s.db.GetAddresses(ctx, hdr.Identity)
	if err != nil {
		log.Printf("error getting addresses for %x: %s - dropping", hdr.Identity.Raw(), err)
		return nil
	}

	log.Printf("got %d ips for %x", len(records), hdr.Identity.Raw())

	wire := make([]protocol.AddressRecord, 0, len(records))
	for _, r := range records {
		wire = append(wire, protocol.AddressRecord{
			Address:   r.Address.As16(),
			Signature: r.Signature,
			Port:      r.Port,
			Priority:  r.Priority,
			ClientTag: r.ClientTag,
			TTL:       database.ResolveTTL,
		})
	}

	return protocol.EncodeResolveResponse(hdr.Nonce, wire)
}
