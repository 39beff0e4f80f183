package cpm

import "github.com/deploymenttheory/go-apple2fs/core"

// Prober implements core.Prober for CP/M images (§4.7): CP/M carries no
// superblock, so detection samples the default directory track and scores
// how many slots look like a syntactically valid extent, reserved-track
// marker, or unused slot versus garbage.
type Prober struct{}

func (Prober) Name() string { return "CP/M" }

func (Prober) TestImage(source core.ChunkSource) (core.Confidence, error) {
	if !source.HasSectors() {
		return core.No, nil
	}
	v, err := New(source)
	if err != nil {
		return core.No, nil
	}
	v.geometry()
	if v.totalBlocks <= 0 {
		return core.No, nil
	}

	good, bad, blank := 0, 0, 0
	for slot := 0; slot < entriesPerDir; slot++ {
		rec, err := v.readDirEntry(slot)
		if err != nil {
			return core.No, nil
		}
		status := rec[0]
		switch {
		case status == statusDeleted:
			blank++
		case status == statusReserved:
			good++
		case int(status) <= maxUserNumber:
			if looksLikeName(rec[1:9]) && looksLikeName(rec[9:12]) {
				good++
			} else {
				bad++
			}
		case status >= 0x10 && status <= 0x1E:
			// neutral: neither counted as good nor bad (§9)
		default:
			bad++
		}
	}

	switch {
	case blank == entriesPerDir:
		return core.Maybe, nil
	case bad > 0 && good == 0:
		return core.No, nil
	case good > 0 && bad == 0:
		return core.Yes, nil
	case good > bad:
		return core.Good, nil
	case good > 0:
		return core.Barely, nil
	default:
		return core.No, nil
	}
}

func looksLikeName(b []byte) bool {
	for _, c := range b {
		c &= 0x7F
		if c == ' ' {
			continue
		}
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

var _ core.Prober = Prober{}
