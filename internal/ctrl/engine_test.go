// internal/ctrl/engine_test.go
//
// Closed-loop tests: controller and framer running as their own tasks,
// joined by the crossing streams, with the simulated card on the line.

package ctrl_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ostraca/sdcard-engine/internal/card"
	"github.com/ostraca/sdcard-engine/internal/ctrl"
	"github.com/ostraca/sdcard-engine/internal/event"
	"github.com/ostraca/sdcard-engine/internal/phy"
	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

type engine struct {
	ctrl *ctrl.Controller
	card *card.Card
}

func startEngine(t *testing.T, cardCfg card.Config, ctrlCfg ctrl.Config) (*engine, func()) {
	t.Helper()
	sd, err := card.New(cardCfg)
	if err != nil {
		t.Fatalf("card: %v", err)
	}
	toPHY, toCtrl := sdbus.NewStream(), sdbus.NewStream()
	p, err := phy.New(phy.Config{Line: sd, Port: sd}, toPHY, toCtrl)
	if err != nil {
		t.Fatalf("phy: %v", err)
	}
	c := ctrl.New(ctrlCfg, toPHY, toCtrl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { p.Run(ctx); done <- struct{}{} }()
	go func() { c.Run(ctx); done <- struct{}{} }()

	return &engine{ctrl: c, card: sd}, func() {
		cancel()
		for i := 0; i < 2; i++ {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("engine did not stop")
			}
		}
	}
}

func (e *engine) configure(t *testing.T, cmdTO, dataTO uint32, blkSize uint16) {
	t.Helper()
	if err := e.ctrl.SetCmdTimeout(cmdTO); err != nil {
		t.Fatalf("cmd timeout: %v", err)
	}
	if err := e.ctrl.SetDataTimeout(dataTO); err != nil {
		t.Fatalf("data timeout: %v", err)
	}
	if err := e.ctrl.SetBlockSize(blkSize); err != nil {
		t.Fatalf("blocksize: %v", err)
	}
}

func (e *engine) issue(t *testing.T, index uint8, arg uint32, resp ctrl.RespKind, xfer ctrl.XferKind) {
	t.Helper()
	e.ctrl.SetArgument(arg)
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := e.ctrl.Command(ctrl.EncodeCommand(index, resp, xfer))
		if err == nil {
			return
		}
		if err != ctrl.ErrBusy || time.Now().After(deadline) {
			t.Fatalf("command %d: %v", index, err)
		}
		time.Sleep(time.Millisecond)
	}
}

func wait(t *testing.T, name string, get func() event.Flags) event.Flags {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if f := get(); f.Done {
			return f
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("%s: done never latched", name)
	return event.Flags{}
}

func TestBringUpSequence(t *testing.T) {
	e, stop := startEngine(t, card.Config{BlockSize: 16}, ctrl.Config{})
	defer stop()
	e.configure(t, 256, 4096, 16)

	// CMD0: no response, both legs complete immediately.
	e.issue(t, 0, 0, ctrl.RespNone, ctrl.XferNone)
	if f := wait(t, "cmd0", e.ctrl.CmdEvent); f.Timeout || f.CRCError {
		t.Fatalf("cmd0: %+v", f)
	}
	wait(t, "cmd0 data", e.ctrl.DataEvent)

	// CMD8: short response echoing the check pattern.
	e.issue(t, 8, 0x1aa, ctrl.RespShort, ctrl.XferNone)
	if f := wait(t, "cmd8", e.ctrl.CmdEvent); f.Timeout || f.CRCError {
		t.Fatalf("cmd8: %+v", f)
	}
	resp := e.ctrl.Response()
	if !bytes.Equal(resp[10:], []byte{0x08, 0x00, 0x00, 0x01, 0xaa}) {
		t.Fatalf("cmd8 response: %x", resp[10:])
	}

	// CMD2: long response, CRC over the captured register bytes.
	e.issue(t, 2, 0, ctrl.RespLong, ctrl.XferNone)
	if f := wait(t, "cmd2", e.ctrl.CmdEvent); f.Timeout || f.CRCError {
		t.Fatalf("cmd2: %+v", f)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	const blkSize = 16
	payload := bytes.Repeat([]byte("sdcard-aa-engine"), 3) // 3 blocks

	var sink bytes.Buffer
	e, stop := startEngine(t,
		card.Config{Blocks: 8, BlockSize: blkSize},
		ctrl.Config{Source: bytes.NewReader(payload), Sink: &sink},
	)
	defer stop()
	e.configure(t, 256, 4096, blkSize)

	e.ctrl.SetBlockCount(2)
	e.issue(t, 25, 0, ctrl.RespShort, ctrl.XferWrite)
	if f := wait(t, "write", e.ctrl.DataEvent); f.WriteError || f.Timeout || f.CRCError {
		t.Fatalf("write: %+v", f)
	}

	e.ctrl.SetBlockCount(2)
	e.issue(t, 18, 0, ctrl.RespShort, ctrl.XferRead)
	if f := wait(t, "read", e.ctrl.DataEvent); f.WriteError || f.Timeout || f.CRCError {
		t.Fatalf("read: %+v", f)
	}

	if !bytes.Equal(sink.Bytes(), payload) {
		t.Fatalf("round trip: got %q want %q", sink.Bytes(), payload)
	}
	if e.ctrl.BlockCounter() != 0 {
		t.Fatalf("blkcnt: %d", e.ctrl.BlockCounter())
	}
}

func TestSilentCardTimesOutAndRecovers(t *testing.T) {
	e, stop := startEngine(t, card.Config{Silent: true}, ctrl.Config{})
	defer stop()
	e.configure(t, 64, 64, 16)

	e.issue(t, 8, 0x1aa, ctrl.RespShort, ctrl.XferNone)
	f := wait(t, "silent cmd", e.ctrl.CmdEvent)
	if !f.Timeout {
		t.Fatal("command timeout not latched")
	}
	wait(t, "silent data", e.ctrl.DataEvent)

	// A new command is accepted after the forced return to idle.
	e.issue(t, 0, 0, ctrl.RespNone, ctrl.XferNone)
	if f := wait(t, "follow-up", e.ctrl.CmdEvent); f.Timeout {
		t.Fatal("no-response command cannot time out")
	}
}

func TestCorruptReadLatchesDataCrcError(t *testing.T) {
	e, stop := startEngine(t,
		card.Config{Blocks: 4, BlockSize: 16, CorruptReadCRC: true},
		ctrl.Config{},
	)
	defer stop()
	e.configure(t, 256, 4096, 16)

	e.ctrl.SetBlockCount(1)
	e.issue(t, 18, 0, ctrl.RespShort, ctrl.XferRead)
	f := wait(t, "read", e.ctrl.DataEvent)
	if !f.CRCError {
		t.Fatal("data crc error not latched")
	}
	if f.Timeout {
		t.Fatalf("dataevt: %+v", f)
	}
}

func TestNackedWriteIsStickyNotAborting(t *testing.T) {
	const blkSize = 16
	payload := make([]byte, 2*blkSize)
	e, stop := startEngine(t,
		card.Config{Blocks: 4, BlockSize: blkSize, NackWrites: true},
		ctrl.Config{Source: bytes.NewReader(payload)},
	)
	defer stop()
	e.configure(t, 256, 4096, blkSize)

	e.ctrl.SetBlockCount(1)
	e.issue(t, 25, 0, ctrl.RespShort, ctrl.XferWrite)
	f := wait(t, "write", e.ctrl.DataEvent)
	if !f.WriteError {
		t.Fatal("write error not latched")
	}
	if e.ctrl.Debug() != uint32(sdbus.StatusWriteError) {
		t.Fatalf("debug: %d", e.ctrl.Debug())
	}
}
