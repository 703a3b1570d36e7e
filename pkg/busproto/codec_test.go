package busproto

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	n := &Notice{
		CycleID:   "qcyc-01hxyztest0000000000000000",
		Epoch:     7,
		Directive: DirectivePrepare,
		Opcode:    0x20,
		Deadline:  1700000000000,
	}

	first, err := Marshal(n)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(n)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("encoding is not deterministic")
		}
	}
}

func TestUnmarshalIgnoresUnknownKeys(t *testing.T) {
	// A notice encoded by a newer peer with an extra field must still
	// decode on this side.
	extended := struct {
		CycleID   string `cbor:"1,keyasint"`
		Directive uint8  `cbor:"3,keyasint"`
		Future    string `cbor:"99,keyasint"`
	}{
		CycleID:   "qcyc-01hxyztest0000000000000000",
		Directive: uint8(DirectiveResume),
		Future:    "ignored",
	}

	data, err := Marshal(&extended)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var n Notice
	if err := Unmarshal(data, &n); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if n.CycleID != extended.CycleID {
		t.Errorf("CycleID = %q, want %q", n.CycleID, extended.CycleID)
	}
	if n.Directive != DirectiveResume {
		t.Errorf("Directive = %v, want resume", n.Directive)
	}
}

func TestNoticeValidate(t *testing.T) {
	tests := []struct {
		name    string
		notice  Notice
		wantErr bool
	}{
		{
			name:   "valid prepare",
			notice: Notice{CycleID: "qcyc-x", Directive: DirectivePrepare},
		},
		{
			name:    "missing cycle id",
			notice:  Notice{Directive: DirectiveAbort},
			wantErr: true,
		},
		{
			name:    "unknown directive",
			notice:  Notice{CycleID: "qcyc-x", Directive: Directive(9)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.notice.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := Codec{}
	if c.Name() != CodecName {
		t.Fatalf("Name() = %q, want %q", c.Name(), CodecName)
	}

	req := &TriggerSuspendRequest{Requester: "quiescectl", Reason: "lid closed"}
	data, err := c.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got TriggerSuspendRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != *req {
		t.Errorf("round trip = %+v, want %+v", got, *req)
	}
}
