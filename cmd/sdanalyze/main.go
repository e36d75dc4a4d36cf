// cmd/sdanalyze/main.go
//
// sdanalyze processes binary Saleae digital captures of SPI-mode SD
// traffic: it reassembles the SPI transactions, picks the command
// frames out of the host line and the data blocks out of the card
// line, and verifies their CRC7/CRC16 trailers.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"

	"github.com/ostraca/sdcard-engine/internal/crc"
)

type decoder struct {
	blockSize    int
	omitData     bool
	onlyFailures bool
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"sdanalyze - decode binary Saleae digital captures of SPI-mode SD card traffic.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	mosi := flag.String("f-mosi", "digital_1.bin", "Input filename: host to card data.")
	miso := flag.String("f-miso", "digital_2.bin", "Input filename: card to host data.")
	clk := flag.String("f-clk", "digital_3.bin", "Input filename: SPI clock.")
	cs := flag.String("f-cs", "digital_0.bin", "Input filename: chip select.")
	output := flag.String("o", "sdtrace.txt", "Output filename of the decoded trace.")
	blockSize := flag.Int("blocksize", 512, "Data block payload length in bytes.")
	omitData := flag.Bool("omit-data", false, "Skip data block decoding, commands only.")
	onlyFailures := flag.Bool("only-bad", false, "Print only frames with CRC failures.")
	flag.Parse()

	dec := decoder{
		blockSize:    *blockSize,
		omitData:     *omitData,
		onlyFailures: *onlyFailures,
	}
	start := time.Now()
	if err := dec.run(*mosi, *miso, *clk, *cs, *output); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

func (d *decoder) run(mosi, miso, clk, cs, output string) error {
	fmosi, err := opendigital(mosi)
	if err != nil {
		return err
	}
	fmiso, err := opendigital(miso)
	if err != nil {
		return err
	}
	fclk, err := opendigital(clk)
	if err != nil {
		return err
	}
	fcs, err := opendigital(cs)
	if err != nil {
		return err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(fclk, fcs, fmosi, fmiso)

	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	for i, tx := range txs {
		for _, c := range commands(tx.SDO) {
			if d.onlyFailures && c.crcOK {
				continue
			}
			fmt.Fprintf(fp, "t=%f tx=%d CMD%-2d arg=%#08x crc=%s\n",
				tx.StartTime(), i, c.index, c.arg, pass(c.crcOK))
		}
		if d.omitData {
			continue
		}
		for _, b := range d.blocks(tx.SDI) {
			if d.onlyFailures && b.crcOK {
				continue
			}
			fmt.Fprintf(fp, "t=%f tx=%d DATA len=%d crc=%s\n",
				tx.StartTime(), i, d.blockSize, pass(b.crcOK))
		}
	}
	return nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

func pass(ok bool) string {
	if ok {
		return "ok"
	}
	return "BAD"
}

type cmdFrame struct {
	index uint8
	arg   uint32
	crcOK bool
}

// commands picks 6-byte command frames out of the host byte stream: a
// byte with start bit low and transmission bit high opens a frame.
func commands(b []byte) (out []cmdFrame) {
	for i := 0; i+6 <= len(b); {
		if b[i]&0xc0 != 0x40 {
			i++
			continue
		}
		f := b[i : i+6]
		out = append(out, cmdFrame{
			index: f[0] & 0x3f,
			arg:   uint32(f[1])<<24 | uint32(f[2])<<16 | uint32(f[3])<<8 | uint32(f[4]),
			crcOK: crc.Sum7(f[:5])<<1|1 == f[5],
		})
		i += 6
	}
	return out
}

type dataBlock struct {
	crcOK bool
}

// blocks picks data blocks out of the card byte stream: the 0xFE start
// token is followed by the payload and a 16-bit CRC trailer.
func (d *decoder) blocks(b []byte) (out []dataBlock) {
	for i := 0; i+1+d.blockSize+2 <= len(b); {
		if b[i] != 0xfe {
			i++
			continue
		}
		payload := b[i+1 : i+1+d.blockSize]
		trailer := uint16(b[i+1+d.blockSize])<<8 | uint16(b[i+2+d.blockSize])
		out = append(out, dataBlock{crcOK: crc.Sum16(payload) == trailer})
		i += 1 + d.blockSize + 2
	}
	return out
}
