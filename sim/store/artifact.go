package store

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/plant-twin/twinsim/sim/defn"
)

const artifactVersion = 1

// artifactHeader is the JSON line preceding the gob payload. It lets tooling
// identify an artifact without decoding it.
type artifactHeader struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
}

// writeArtifact writes the zstd-compressed header line and gob-encoded
// document of d to path.
func writeArtifact(path string, d *defn.SimulationDefn) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(artifactHeader{Version: artifactVersion, ID: d.ID()})
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	doc := d.Document()
	if err := gob.NewEncoder(bw).Encode(&doc); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// readArtifact decodes an artifact written by writeArtifact.
func readArtifact(path string) (artifactHeader, defn.Document, error) {
	var (
		hdr artifactHeader
		doc defn.Document
	)
	f, err := os.Open(path)
	if err != nil {
		return hdr, doc, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, doc, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, doc, fmt.Errorf("reading artifact header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, doc, fmt.Errorf("parsing artifact header: %w", err)
	}
	if hdr.Version != artifactVersion {
		return hdr, doc, fmt.Errorf("unsupported artifact version %d", hdr.Version)
	}
	if err := gob.NewDecoder(br).Decode(&doc); err != nil {
		return hdr, doc, fmt.Errorf("gob decode: %w", err)
	}
	return hdr, doc, nil
}
