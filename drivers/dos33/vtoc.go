package dos33

import "github.com/deploymenttheory/go-apple2fs/core"

// VTOC mirrors the track-17/sector-0 Volume Table of Contents: geometry,
// volume number, catalog head pointer, and the per-track free-sector
// bitmap. Bit convention (§3): within each track's 4-byte run starting at
// offset 0x38+4*track, byte+1 bit n set means sector n is free, byte+0 bit n
// set means sector (8+n) is free; only the first two bytes of the 4-byte run
// are meaningful for the 16-sector/track geometry this driver targets.
type VTOC struct {
	CatalogTrack  byte
	CatalogSector byte
	DOSRelease    byte
	VolumeNumber  byte
	MaxTSPairs    byte
	LastTrackAllocated byte
	AllocDirection int8
	Tracks        int
	SectorsPerTrack int
	BytesPerSector int

	// freeBits[track] is a bitmask over sectors 0..15 (bit n = sector n),
	// decoded from the two meaningful on-disk bytes. true = free.
	freeBits [][]bool

	dirty bool
}

// ParseVTOC decodes a 256-byte VTOC sector.
func ParseVTOC(buf []byte) (*VTOC, error) {
	if len(buf) != sectorSize {
		return nil, core.NewError(core.KindIOError, "VTOC sector must be %d bytes", sectorSize)
	}
	v := &VTOC{
		CatalogTrack:       buf[0x01],
		CatalogSector:      buf[0x02],
		DOSRelease:         buf[0x03],
		VolumeNumber:       buf[0x06],
		MaxTSPairs:         buf[0x27],
		LastTrackAllocated: buf[0x30],
		AllocDirection:     int8(buf[0x31]),
		Tracks:             int(buf[0x34]),
		SectorsPerTrack:    int(buf[0x35]),
		BytesPerSector:     int(core.LE16(buf[0x36:0x38])),
	}
	if v.Tracks <= 0 || v.SectorsPerTrack <= 0 {
		return nil, core.NewError(core.KindDamaged, "VTOC reports zero tracks/sectors")
	}
	v.freeBits = make([][]bool, v.Tracks)
	for t := 0; t < v.Tracks; t++ {
		off := 0x38 + 4*t
		if off+2 > len(buf) {
			break
		}
		bits := make([]bool, v.SectorsPerTrack)
		low := buf[off+1]
		high := buf[off+0]
		for s := 0; s < v.SectorsPerTrack && s < 8; s++ {
			bits[s] = low&(1<<uint(s)) != 0
		}
		for s := 8; s < v.SectorsPerTrack && s < 16; s++ {
			bits[s] = high&(1<<uint(s-8)) != 0
		}
		v.freeBits[t] = bits
	}
	return v, nil
}

// Encode serializes the VTOC back to a 256-byte sector.
func (v *VTOC) Encode() []byte {
	buf := make([]byte, sectorSize)
	buf[0x01] = v.CatalogTrack
	buf[0x02] = v.CatalogSector
	buf[0x03] = v.DOSRelease
	buf[0x06] = v.VolumeNumber
	buf[0x27] = v.MaxTSPairs
	buf[0x30] = v.LastTrackAllocated
	buf[0x31] = byte(v.AllocDirection)
	buf[0x34] = byte(v.Tracks)
	buf[0x35] = byte(v.SectorsPerTrack)
	core.PutLE16(buf[0x36:0x38], uint16(v.BytesPerSector))
	for t := 0; t < v.Tracks && t < len(v.freeBits); t++ {
		off := 0x38 + 4*t
		var low, high byte
		bits := v.freeBits[t]
		for s := 0; s < len(bits) && s < 8; s++ {
			if bits[s] {
				low |= 1 << uint(s)
			}
		}
		for s := 8; s < len(bits) && s < 16; s++ {
			if bits[s] {
				high |= 1 << uint(s-8)
			}
		}
		buf[off+1] = low
		buf[off+0] = high
	}
	return buf
}

// IsFree reports whether (track, sector) is marked free in the bitmap.
func (v *VTOC) IsFree(track, sector int) bool {
	if track < 0 || track >= len(v.freeBits) || sector < 0 || sector >= len(v.freeBits[track]) {
		return false
	}
	return v.freeBits[track][sector]
}

// SetUsed marks (track, sector) used (not free).
func (v *VTOC) SetUsed(track, sector int) {
	if track < 0 || track >= len(v.freeBits) || sector < 0 || sector >= len(v.freeBits[track]) {
		return
	}
	v.freeBits[track][sector] = false
	v.dirty = true
}

// SetFree marks (track, sector) free.
func (v *VTOC) SetFree(track, sector int) {
	if track < 0 || track >= len(v.freeBits) || sector < 0 || sector >= len(v.freeBits[track]) {
		return
	}
	v.freeBits[track][sector] = true
	v.dirty = true
}

// FreeSectorCount returns the total number of sectors the bitmap marks free,
// counted across every track.
func (v *VTOC) FreeSectorCount() int {
	n := 0
	for _, bits := range v.freeBits {
		for _, free := range bits {
			if free {
				n++
			}
		}
	}
	return n
}

// AllocUnit converts (track, sector) to a flat allocation-unit index used by
// the core.VolumeUsage/core.AllocMap overlay.
func (v *VTOC) AllocUnit(track, sector int) int {
	return track*v.SectorsPerTrack + sector
}

// TrackSectorOf converts a flat allocation-unit index back to (track, sector).
func (v *VTOC) TrackSectorOf(unit int) (track, sector int) {
	return unit / v.SectorsPerTrack, unit % v.SectorsPerTrack
}

func (v *VTOC) TotalSectors() int { return v.Tracks * v.SectorsPerTrack }
