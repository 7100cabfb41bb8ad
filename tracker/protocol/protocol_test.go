package protocol

import (
	"bytes"
	"testing"

	"mimir_tracker/keys"
)

func testIdentity() keys.PublicKey {
	raw := make([]byte, keys.PublicKeyLen)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return keys.NewPublicKeyFromRawBytes(raw)
}

func testPayload() RegisterPayload {
	p := RegisterPayload{
		Port:      5050,
		Priority:  7,
		ClientTag: 0xdeadbeef,
	}
	copy(p.Address[:], []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	for i := range p.Signature {
		p.Signature[i] = byte(255 - i)
	}
	return p
}

func TestRegisterRequestLayout(t *testing.T) {
	id := testIdentity()
	p := testPayload()

	data := EncodeRegisterRequest(0x01020304, id, p)
	if len(data) != headerLen+registerPayloadLen {
		t.Fatalf("got length %d expected %d", len(data), headerLen+registerPayloadLen)
	}
	if data[0] != ProtocolVersion {
		t.Fatalf("got version %d expected %d", data[0], ProtocolVersion)
	}
	if !bytes.Equal(data[1:5], []byte{1, 2, 3, 4}) {
		t.Fatalf("got nonce bytes %x expected 01020304", data[1:5])
	}
	if data[5] != CmdRegister {
		t.Fatalf("got command %d expected %d", data[5], CmdRegister)
	}
	if !bytes.Equal(data[6:38], id.Raw()) {
		t.Fatal("identity bytes do not match")
	}
	// 5050 == 0x13ba
	if data[38] != 0x13 || data[39] != 0xba {
		t.Fatalf("got port bytes %x expected 13ba", data[38:40])
	}
	if data[40] != 7 {
		t.Fatalf("got priority %d expected 7", data[40])
	}
	if !bytes.Equal(data[41:45], []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("got client tag bytes %x expected deadbeef", data[41:45])
	}
	if !bytes.Equal(data[45:61], p.Address[:]) {
		t.Fatal("address bytes do not match")
	}
	if !bytes.Equal(data[61:125], p.Signature[:]) {
		t.Fatal("signature bytes do not match")
	}
}

func TestRegisterRequestRoundTrip(t *testing.T) {
	id := testIdentity()
	p := testPayload()

	hdr, rest, err := DecodeHeader(EncodeRegisterRequest(42, id, p))
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.Version != ProtocolVersion || hdr.Nonce != 42 || hdr.Command != CmdRegister {
		t.Fatalf("got header %+v", hdr)
	}
	if hdr.Identity != id {
		t.Fatal("identity mismatch")
	}

	got, err := DecodeRegisterPayload(rest)
	if err != nil {
		t.Fatalf("DecodeRegisterPayload: %v", err)
	}
	if got != p {
		t.Fatalf("got %+v expected %+v", got, p)
	}
}

func TestResolveRequestRoundTrip(t *testing.T) {
	id := testIdentity()

	hdr, rest, err := DecodeHeader(EncodeResolveRequest(7, id))
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.Command != CmdResolve || hdr.Nonce != 7 || hdr.Identity != id {
		t.Fatalf("got header %+v", hdr)
	}
	if len(rest) != 0 {
		t.Fatalf("got %d payload bytes expected 0", len(rest))
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	data := EncodeResolveRequest(7, testIdentity())
	for i := 0; i < headerLen; i++ {
		if _, _, err := DecodeHeader(data[:i]); err != ErrShortPacket {
			t.Fatalf("length %d: got %v expected %v", i, err, ErrShortPacket)
		}
	}
}

func TestDecodeRegisterPayloadTruncated(t *testing.T) {
	data := EncodeRegisterRequest(42, testIdentity(), testPayload())
	_, rest, err := DecodeHeader(data)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}

	// Every cut before the end of the trailing signature must fail.
	for i := 0; i < len(rest); i++ {
		if _, err := DecodeRegisterPayload(rest[:i]); err != ErrShortPacket {
			t.Fatalf("length %d: got %v expected %v", i, err, ErrShortPacket)
		}
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	data := EncodeRegisterRequest(42, testIdentity(), testPayload())
	data = append(data, 0xaa, 0xbb, 0xcc)

	hdr, rest, err := DecodeHeader(data)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.Nonce != 42 {
		t.Fatalf("got nonce %d expected 42", hdr.Nonce)
	}
	if _, err := DecodeRegisterPayload(rest); err != nil {
		t.Fatalf("DecodeRegisterPayload: %v", err)
	}
}

func TestRegisterResponseRoundTrip(t *testing.T) {
	data := EncodeRegisterResponse(99, 86400)
	if len(data) != respHeaderLen+8 {
		t.Fatalf("got length %d expected %d", len(data), respHeaderLen+8)
	}

	nonce, ttl, err := DecodeRegisterResponse(data)
	if err != nil {
		t.Fatalf("DecodeRegisterResponse: %v", err)
	}
	if nonce != 99 {
		t.Fatalf("got nonce %d expected 99", nonce)
	}
	if ttl != 86400 {
		t.Fatalf("got ttl %d expected 86400", ttl)
	}
}

func TestResolveResponseEmpty(t *testing.T) {
	data := EncodeResolveResponse(3, nil)
	if len(data) != respHeaderLen+1 {
		t.Fatalf("got length %d expected %d", len(data), respHeaderLen+1)
	}

	nonce, records, err := DecodeResolveResponse(data)
	if err != nil {
		t.Fatalf("DecodeResolveResponse: %v", err)
	}
	if nonce != 3 || len(records) != 0 {
		t.Fatalf("got nonce %d, %d records", nonce, len(records))
	}
}

func TestResolveResponseRoundTrip(t *testing.T) {
	p := testPayload()
	in := []AddressRecord{
		{Address: p.Address, Signature: p.Signature, Port: 5050, Priority: 1, ClientTag: 10, TTL: 30},
		{Address: p.Address, Signature: p.Signature, Port: 5051, Priority: 2, ClientTag: 20, TTL: 30},
	}

	nonce, out, err := DecodeResolveResponse(EncodeResolveResponse(8, in))
	if err != nil {
		t.Fatalf("DecodeResolveResponse: %v", err)
	}
	if nonce != 8 {
		t.Fatalf("got nonce %d expected 8", nonce)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d records expected %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("record %d: got %+v expected %+v", i, out[i], in[i])
		}
	}
}

func TestResolveResponseCapped(t *testing.T) {
	in := make([]AddressRecord, MaxResolveRecords+5)
	for i := range in {
		in[i].Port = uint16(i)
	}

	data := EncodeResolveResponse(1, in)
	if len(data) > MaxPacketSize {
		t.Fatalf("response length %d exceeds %d", len(data), MaxPacketSize)
	}

	_, out, err := DecodeResolveResponse(data)
	if err != nil {
		t.Fatalf("DecodeResolveResponse: %v", err)
	}
	if len(out) != MaxResolveRecords {
		t.Fatalf("got %d records expected %d", len(out), MaxResolveRecords)
	}
}

func TestDecodeResponseCommandMismatch(t *testing.T) {
	if _, _, err := DecodeResolveResponse(EncodeRegisterResponse(1, 86400)); err != ErrCommandMismatch {
		t.Fatalf("got %v expected %v", err, ErrCommandMismatch)
	}
	resolve := EncodeResolveResponse(1, []AddressRecord{{Port: 5050, TTL: 30}})
	if _, _, err := DecodeRegisterResponse(resolve); err != ErrCommandMismatch {
		t.Fatalf("got %v expected %v", err, ErrCommandMismatch)
	}
}

func TestDecodeResolveResponseTruncatedRecords(t *testing.T) {
	p := testPayload()
	in := []AddressRecord{
		{Address: p.Address, Port: 5050, TTL: 30},
		{Address: p.Address, Port: 5051, TTL: 30},
	}
	data := EncodeResolveResponse(8, in)

	// Count claims two records but the bytes hold less.
	if _, _, err := DecodeResolveResponse(data[:len(data)-1]); err != ErrShortPacket {
		t.Fatalf("got %v expected %v", err, ErrShortPacket)
	}
	if _, _, err := DecodeResolveResponse(data[:respHeaderLen+1+recordLen]); err != ErrShortPacket {
		t.Fatalf("got %v expected %v", err, ErrShortPacket)
	}
}
