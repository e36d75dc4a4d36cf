// cmd/sdengine/main.go
//
// sdengine runs the protocol engine closed-loop against the simulated
// card and walks through a bring-up sequence: reset, identify, write a
// test pattern, read it back. Outcomes come from the engine's event
// registers, the way a host integration would see them.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ostraca/sdcard-engine/internal/card"
	"github.com/ostraca/sdcard-engine/internal/config"
	"github.com/ostraca/sdcard-engine/internal/ctrl"
	"github.com/ostraca/sdcard-engine/internal/event"
	"github.com/ostraca/sdcard-engine/internal/phy"
	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

var log = logrus.New()

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: sdengine <config.yaml>")
		os.Exit(2)
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	log.Formatter = new(logrus.TextFormatter)
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("log level: %v", err)
	}
	log.Level = level

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	// --------------------
	// Build the pipeline: card <- framer <- streams -> controller
	// --------------------

	sd, err := card.New(card.Config{
		Blocks:         cfg.Card.Blocks,
		BlockSize:      cfg.Engine.BlockSize,
		Image:          cfg.Card.Image,
		ResponseDelay:  cfg.Card.ResponseDelay,
		ReadDelay:      cfg.Card.ReadDelay,
		Silent:         cfg.Card.Silent,
		CorruptReadCRC: cfg.Card.CorruptReadCRC,
		NackWrites:     cfg.Card.NackWrites,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("card build failed: %w", err)
	}

	payload := pattern(int(cfg.Engine.Blocks) * int(cfg.Engine.BlockSize))
	var readBack bytes.Buffer

	toPHY, toCtrl := sdbus.NewStream(), sdbus.NewStream()
	p, err := phy.New(phy.Config{Line: sd, Port: sd, Logger: log}, toPHY, toCtrl)
	if err != nil {
		return fmt.Errorf("phy build failed: %w", err)
	}
	eng := ctrl.New(ctrl.Config{
		Source: bytes.NewReader(payload),
		Sink:   &readBack,
		Logger: log,
	}, toPHY, toCtrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	go eng.Run(ctx)

	// --------------------
	// Bus configuration
	// --------------------

	for _, step := range []error{
		eng.SetCmdTimeout(cfg.Engine.CmdTimeout),
		eng.SetDataTimeout(cfg.Engine.DataTimeout),
		eng.SetBlockSize(cfg.Engine.BlockSize),
		eng.SetVoltage(cfg.Engine.VoltageByte()),
	} {
		if step != nil {
			return fmt.Errorf("bus configuration: %w", step)
		}
	}

	// --------------------
	// Bring-up: reset, interface check, identify
	// --------------------

	if _, err := issue(eng, "GO_IDLE", 0, 0, ctrl.RespNone, ctrl.XferNone); err != nil {
		return err
	}
	if f, err := issue(eng, "SEND_IF_COND", 8, 0x1aa, ctrl.RespShort, ctrl.XferNone); err != nil {
		return err
	} else if f.Timeout {
		return fmt.Errorf("card not responding; check card.silent")
	}
	if f, err := issue(eng, "ALL_SEND_CID", 2, 0, ctrl.RespLong, ctrl.XferNone); err != nil {
		return err
	} else if !f.Timeout && !f.CRCError {
		r := eng.Response()
		log.WithField("cid", fmt.Sprintf("%x", r[:])).Info("card identified")
	}

	// --------------------
	// Data path: write the pattern, read it back
	// --------------------

	eng.SetBlockCount(cfg.Engine.Blocks - 1)
	if _, err := issue(eng, "WRITE_MULTIPLE_BLOCK", 25, 0, ctrl.RespShort, ctrl.XferWrite); err != nil {
		return err
	}
	wf := waitData(eng)
	log.WithFields(logrus.Fields{
		"blocks": cfg.Engine.Blocks, "write_error": wf.WriteError,
		"timeout": wf.Timeout, "debug": eng.Debug(),
	}).Info("write transfer finished")

	eng.SetBlockCount(cfg.Engine.Blocks - 1)
	if _, err := issue(eng, "READ_MULTIPLE_BLOCK", 18, 0, ctrl.RespShort, ctrl.XferRead); err != nil {
		return err
	}
	rf := waitData(eng)
	log.WithFields(logrus.Fields{
		"blocks": cfg.Engine.Blocks, "crc_error": rf.CRCError, "timeout": rf.Timeout,
	}).Info("read transfer finished")

	if !wf.WriteError && !rf.Timeout && !rf.CRCError {
		if bytes.Equal(readBack.Bytes(), payload) {
			log.Info("pattern verified")
		} else {
			log.Error("pattern mismatch after round trip")
		}
	}

	if err := sd.Flush(); err != nil {
		return err
	}
	return nil
}

// issue runs one command to command-leg completion and logs its event
// register.
func issue(eng *ctrl.Controller, name string, index uint8, arg uint32, resp ctrl.RespKind, xfer ctrl.XferKind) (event.Flags, error) {
	eng.SetArgument(arg)
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := eng.Command(ctrl.EncodeCommand(index, resp, xfer))
		if err == nil {
			break
		}
		if err != ctrl.ErrBusy || time.Now().After(deadline) {
			return event.Flags{}, fmt.Errorf("%s: %w", name, err)
		}
		time.Sleep(time.Millisecond)
	}
	for time.Now().Before(deadline) {
		f := eng.CmdEvent()
		if f.Done {
			log.WithFields(logrus.Fields{
				"cmd": index, "timeout": f.Timeout, "crc_error": f.CRCError,
			}).Debug(name)
			return f, nil
		}
		time.Sleep(time.Millisecond)
	}
	return event.Flags{}, fmt.Errorf("%s: command leg never completed", name)
}

// waitData polls the data event register until the leg closes.
func waitData(eng *ctrl.Controller) event.Flags {
	for {
		f := eng.DataEvent()
		if f.Done {
			return f
		}
		time.Sleep(time.Millisecond)
	}
}

// pattern fills the write payload with a recognizable rolling sequence.
func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i>>8) ^ byte(i)
	}
	return p
}
