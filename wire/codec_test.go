package wire

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	frame, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode(%#v): %v", m, err)
	}
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	cmdUUID := uuid.New()
	workerUUID := uuid.New()
	reqID := uuid.New()

	cases := []Message{
		Hello{WorkerUUID: workerUUID, WorkerName: "alpha", Capabilities: []string{"shell"}},
		HelloAck{CoordinatorVersion: "1.0.0"},
		Run{CmdUUID: cmdUUID, Command: "echo hi"},
		Output{CmdUUID: cmdUUID, Kind: Stdout, Timestamp: "2025-01-15T08:42:11Z", Line: "hi"},
		Status{CmdUUID: cmdUUID, ExitCode: 0, Success: true},
		Ping{},
		Pong{},
		Shutdown{Reason: ReasonSuperseded},
		CliHello{CliName: "barto-cli"},
		CliRequest{ReqID: reqID, Body: CliOp{Kind: OpQuery, SQL: "select 1"}},
		CliResponse{ReqID: reqID, Body: CliResult{IsOk: true, Payload: map[string]any{"rows": 1}}},
	}

	for _, m := range cases {
		got := roundTrip(t, m)
		if !reflect.DeepEqual(got, m) {
			t.Errorf("round trip mismatch: got %#v, want %#v", got, m)
		}
	}
}

func TestDecodeUnknownVariant(t *testing.T) {
	frame := []byte{99, 0}
	if _, err := Decode(frame); err != UnknownVariant {
		t.Errorf("got err %v, want UnknownVariant", err)
	}
}

func TestDecodeEmptyFrame(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("expected error decoding empty frame")
	}
}

func TestTagsAssignedOnceEachInOrder(t *testing.T) {
	// The wire contract fixes the tag ordering; this test pins it so a future
	// change to the variant table is a deliberate, reviewed append, not a
	// silent shift.
	want := map[tag]Message{
		tagHello:       Hello{},
		tagHelloAck:    HelloAck{},
		tagRun:         Run{},
		tagOutput:      Output{},
		tagStatus:      Status{},
		tagPing:        Ping{},
		tagPong:        Pong{},
		tagShutdown:    Shutdown{},
		tagCliHello:    CliHello{},
		tagCliRequest:  CliRequest{},
		tagCliResponse: CliResponse{},
	}
	for wantTag, m := range want {
		gotTag, err := tagFor(m)
		if err != nil {
			t.Fatalf("tagFor(%T): %v", m, err)
		}
		if gotTag != wantTag {
			t.Errorf("tagFor(%T) = %d, want %d", m, gotTag, wantTag)
		}
	}
}
