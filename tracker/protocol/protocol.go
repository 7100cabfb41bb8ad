// Package protocol implements the tracker wire format. All integers are
// big endian.
//
// Request:
//
//	version  u8
//	nonce    u32
//	command  u8  (0 register, 1 resolve)
//	identity 32 bytes
//
// A register request continues with port u16, priority u8, clientTag u32,
// address 16 bytes, signature 64 bytes. A resolve request carries no
// further payload.
//
// Every response echoes nonce u32 and command u8 from the request, then
// ttl u64 (register) or count u8 followed by count address records
// (resolve). The protocol has no error reply; bad requests get nothing.
package protocol

import (
	"encoding/binary"
	"errors"

	"mimir_tracker/keys"
)

const (
	// ProtocolVersion is sent in every request header. The tracker reads
	// and ignores it today; it exists for future revisions.
	ProtocolVersion uint8 = 1

	CmdRegister uint8 = 0
	CmdResolve  uint8 = 1

	AddressLen = 16

	// MaxPacketSize matches the tracker's fixed receive and response
	// buffers. No datagram on the wire may exceed it.
	MaxPacketSize = 1024

	headerLen          = 1 + 4 + 1 + keys.PublicKeyLen
	registerPayloadLen = 2 + 1 + 4 + AddressLen + keys.SignatureLen
	respHeaderLen      = 4 + 1
	recordLen          = AddressLen + keys.SignatureLen + 2 + 1 + 4 + 8

	// MaxResolveRecords is how many records fit a resolve response within
	// MaxPacketSize. The encoder truncates longer lists.
	MaxResolveRecords = (MaxPacketSize - respHeaderLen - 1) / recordLen
)

var (
	ErrShortPacket     = errors.New("protocol: truncated packet")
	ErrCommandMismatch = errors.New("protocol: unexpected command in response")
)

// Header starts every request.
type Header struct {
	Version  uint8
	Nonce    uint32
	Command  uint8
	Identity keys.PublicKey
}

// RegisterPayload follows the header of a register request. The signature
// covers the 16 address bytes only.
type RegisterPayload struct {
	Port      uint16
	Priority  uint8
	ClientTag uint32
	Address   [AddressLen]byte
	Signature [keys.SignatureLen]byte
}

// AddressRecord is one entry of a resolve response.
type AddressRecord struct {
	Address   [AddressLen]byte
	Signature [keys.SignatureLen]byte
	Port      uint16
	Priority  uint8
	ClientTag uint32
	TTL       uint64
}

// DecodeHeader parses the common request header and returns the remaining
// payload bytes. Trailing bytes beyond a well-formed request are ignored
// by the payload decoders; truncation anywhere is an error.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < headerLen {
		return Header{}, nil, ErrShortPacket
	}
	h := Header{
		Version: data[0],
		Nonce:   binary.BigEndian.Uint32(data[1:5]),
		Command: data[5],
	}
	h.Identity = keys.NewPublicKeyFromRawBytes(data[6:headerLen])
	return h, data[headerLen:], nil
}

func DecodeRegisterPayload(data []byte) (RegisterPayload, error) {
	if len(data) < registerPayloadLen {
		return RegisterPayload{}, ErrShortPacket
	}
	p := RegisterPayload{
		Port:      binary.BigEndian.Uint16(data[0:2]),
		Priority:  data[2],
		ClientTag: binary.BigEndian.Uint32(data[3:7]),
	}
	copy(p.Address[:], data[7:7+AddressLen])
	copy(p.Signature[:], data[7+AddressLen:registerPayloadLen])
	return p, nil
}

func appendHeader(buf []byte, nonce uint32, command uint8, identity keys.PublicKey) []byte {
	buf = append(buf, ProtocolVersion)
	buf = binary.BigEndian.AppendUint32(buf, nonce)
	buf = append(buf, command)
	return append(buf, identity.Raw()...)
}

func EncodeRegisterRequest(nonce uint32, identity keys.PublicKey, p RegisterPayload) []byte {
	buf := make([]byte, 0, headerLen+registerPayloadLen)
	buf = appendHeader(buf, nonce, CmdRegister, identity)
	buf = binary.BigEndian.AppendUint16(buf, p.Port)
	buf = append(buf, p.Priority)
	buf = binary.BigEndian.AppendUint32(buf, p.ClientTag)
	buf = append(buf, p.Address[:]...)
	return append(buf, p.Signature[:]...)
}

func EncodeResolveRequest(nonce uint32, identity keys.PublicKey) []byte {
	return appendHeader(make([]byte, 0, headerLen), nonce, CmdResolve, identity)
}

func EncodeRegisterResponse(nonce uint32, ttl uint64) []byte {
	buf := make([]byte, 0, respHeaderLen+8)
	buf = binary.BigEndian.AppendUint32(buf, nonce)
	buf = append(buf, CmdRegister)
	return binary.BigEndian.AppendUint64(buf, ttl)
}

// EncodeResolveResponse truncates records at MaxResolveRecords so the
// response always fits the processing buffer.
func EncodeResolveResponse(nonce uint32, records []AddressRecord) []byte {
	if len(records) > MaxResolveRecords {
		records = records[:MaxResolveRecords]
	}
	buf := make([]byte, 0, respHeaderLen+1+len(records)*recordLen)
	buf = binary.BigEndian.AppendUint32(buf, nonce)
	buf = append(buf, CmdResolve)
	buf = append(buf, uint8(len(records)))
	for _, r := range records {
		buf = append(buf, r.Address[:]...)
		buf = append(buf, r.Signature[:]...)
		buf = binary.BigEndian.AppendUint16(buf, r.Port)
		buf = append(buf, r.Priority)
		buf = binary.BigEndian.AppendUint32(buf, r.ClientTag)
		buf = binary.BigEndian.AppendUint64(buf, r.TTL)
	}
	return buf
}

func DecodeRegisterResponse(data []byte) (nonce uint32, ttl uint64, err error) {
	if len(data) < respHeaderLen+8 {
		return 0, 0, ErrShortPacket
	}
	if data[4] != CmdRegister {
		return 0, 0, ErrCommandMismatch
	}
	nonce = binary.BigEndian.Uint32(data[0:4])
	ttl = binary.BigEndian.Uint64(data[5:13])
	return nonce, ttl, nil
}

func DecodeResolveResponse(data []byte) (nonce uint32, records []AddressRecord, err error) {
	if len(data) < respHeaderLen+1 {
		return 0, nil, ErrShortPacket
	}
	if data[4] != CmdResolve {
		return 0, nil, ErrCommandMismatch
	}
	nonce = binary.BigEndian.Uint32(data[0:4])
	count := int(data[5])
	if len(data) < respHeaderLen+1+count*recordLen {
		return 0, nil, ErrShortPacket
	}
	records = make([]AddressRecord, 0, count)
	off := respHeaderLen + 1
	for i := 0; i < count; i++ {
		var r AddressRecord
		copy(r.Address[:], data[off:off+AddressLen])
		off += AddressLen
		copy(r.Signature[:], data[off:off+keys.SignatureLen])
		off += keys.SignatureLen
		r.Port = binary.BigEndian.Uint16(data[off : off+2])
		off += 2
		r.Priority = data[off]
		off++
		r.ClientTag = binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		r.TTL = binary.BigEndian.Uint64(data[off : off+8])
		off += 8
		records = append(records, r)
	}
	return nonce, records, nil
}
