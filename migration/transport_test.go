package migration_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nanovmm/balloond/migration"
)

func TestDeviceStateRoundTrip(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	s := migration.NewSender(buf)

	st := &migration.BalloonState{
		Version:  migration.BalloonStateVersion,
		NumPages: 65536,
		Actual:   1024,
	}

	if err := s.SendDeviceState(st); err != nil {
		t.Fatal(err)
	}

	if err := s.SendDone(); err != nil {
		t.Fatal(err)
	}

	r := migration.NewReceiver(buf)

	typ, payload, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}

	if typ != migration.MsgDeviceState {
		t.Fatalf("type: expected %d, actual %d", migration.MsgDeviceState, typ)
	}

	got, err := migration.DecodeDeviceState(payload)
	if err != nil {
		t.Fatal(err)
	}

	if *got != *st {
		t.Fatalf("expected %+v, actual %+v", st, got)
	}

	typ, payload, err = r.Next()
	if err != nil {
		t.Fatal(err)
	}

	if typ != migration.MsgDone || payload != nil {
		t.Fatalf("expected empty MsgDone, actual type %d payload %v", typ, payload)
	}
}

func TestDecodeDeviceStateBadVersion(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	s := migration.NewSender(buf)

	st := &migration.BalloonState{Version: 99}
	if err := s.SendDeviceState(st); err != nil {
		t.Fatal(err)
	}

	r := migration.NewReceiver(buf)

	_, payload, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := migration.DecodeDeviceState(payload); !errors.Is(err, migration.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, actual %v", err)
	}
}

func TestReceiverTruncatedStream(t *testing.T) {
	t.Parallel()

	r := migration.NewReceiver(bytes.NewReader([]byte{0, 0, 0, 1}))

	if _, _, err := r.Next(); err == nil {
		t.Fatal("truncated header accepted")
	}
}

func TestBalloonStateValidate(t *testing.T) {
	t.Parallel()

	ok := migration.BalloonState{Version: migration.BalloonStateVersion}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}

	bad := migration.BalloonState{Version: 0}
	if err := bad.Validate(); !errors.Is(err, migration.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, actual %v", err)
	}
}
