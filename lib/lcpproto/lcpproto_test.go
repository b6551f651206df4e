package lcpproto

import (
	"bytes"
	"testing"
	"testing/quick"
)

func TestHeaderRoundTrip(t *testing.T) {
	f := func(from, to [20]byte, opByte byte, bodyID byte, bodyLen uint64) bool {
		op := Op(opByte % 3) // restrict to valid opcodes for the property test
		packed, err := PackHeader(UID(from), UID(to), op, bodyID, bodyLen)
		if err != nil {
			t.Fatalf("pack: %v", err)
		}
		if len(packed) != HeaderSize {
			t.Fatalf("packed size = %d, want %d", len(packed), HeaderSize)
		}
		got, err := UnpackHeader(packed)
		if err != nil {
			t.Fatalf("unpack: %v", err)
		}
		return got.From.Trimmed() == UID(from).Trimmed() &&
			got.To.Trimmed() == UID(to).Trimmed() &&
			got.Op == op &&
			got.BodyID == bodyID &&
			got.BodyLength == bodyLen
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	f := func(responder [20]byte, statusByte byte) bool {
		status := Status(statusByte % 3)
		packed, err := PackResponse(status, UID(responder))
		if err != nil {
			t.Fatalf("pack: %v", err)
		}
		if len(packed) != ResponseSize {
			t.Fatalf("packed size = %d, want %d", len(packed), ResponseSize)
		}
		got, err := UnpackResponse(packed)
		if err != nil {
			t.Fatalf("unpack: %v", err)
		}
		return got.Status == status && got.Responder.Trimmed() == UID(responder).Trimmed()
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestMessageBodyRoundTrip(t *testing.T) {
	f := func(id uint64, payload []byte) bool {
		body := PackMessageBody(id, payload)
		gotID, gotPayload, err := UnpackMessageBody(body)
		if err != nil {
			t.Fatalf("unpack: %v", err)
		}
		return gotID == id && bytes.Equal(gotPayload, payload)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestUnpackHeaderTooShort(t *testing.T) {
	if _, err := UnpackHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestUnpackHeaderUnknownOpcode(t *testing.T) {
	packed, err := PackHeader(NewUID("alice"), Broadcast, OpEcho, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	packed[40] = 99
	if _, err := UnpackHeader(packed); err == nil {
		t.Fatal("expected error for unknown opcode")
	}
}

func TestUnpackHeaderReservedBytesIgnored(t *testing.T) {
	packed, err := PackHeader(NewUID("alice"), NewUID("bob"), OpMessage, 7, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 50; i < 100; i++ {
		packed[i] = 0xAA
	}
	h, err := UnpackHeader(packed)
	if err != nil {
		t.Fatalf("unexpected error with non-zero reserved bytes: %v", err)
	}
	if h.Op != OpMessage || h.BodyID != 7 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestUIDTruncation(t *testing.T) {
	long := "this-identifier-is-way-longer-than-twenty-bytes"
	u := NewUID(long)
	if len(u) != UIDSize {
		t.Fatalf("UID length = %d, want %d", len(u), UIDSize)
	}
	if u.Trimmed() != long[:UIDSize] {
		t.Fatalf("Trimmed() = %q, want %q", u.Trimmed(), long[:UIDSize])
	}
}

func TestBodyIDWrap(t *testing.T) {
	var id byte = 255
	id++
	if id != 0 {
		t.Fatalf("byte wraparound broken: %d", id)
	}
}

func TestZeroBodyLengthLegalForEcho(t *testing.T) {
	packed, err := PackHeader(NewUID("alice"), Broadcast, OpEcho, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, err := UnpackHeader(packed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.BodyLength != 0 {
		t.Fatalf("BodyLength = %d, want 0", h.BodyLength)
	}
}

func TestBroadcastIsReserved(t *testing.T) {
	if !Broadcast.IsBroadcast() {
		t.Fatal("Broadcast.IsBroadcast() = false")
	}
	if NewUID("alice").IsBroadcast() {
		t.Fatal("ordinary UID reported as broadcast")
	}
}
