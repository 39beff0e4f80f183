package dos33

import "github.com/deploymenttheory/go-apple2fs/core"

const deletedTrackMarker = 0xFF
const unusedTrackMarker = 0x00

// decodeCatalogEntry parses one 35-byte catalog slot. ok=false means the
// slot was never used (track byte 0x00); callers honoring the
// "stop at first unused slot" tie-break check ok before deciding whether to
// continue to the next slot (exhaustive-scan mode continues regardless).
func decodeCatalogEntry(buf []byte) (e Entry, used bool) {
	track := buf[0x00]
	if track == unusedTrackMarker {
		return Entry{}, false
	}
	e.Deleted = track == deletedTrackMarker
	if e.Deleted {
		e.DeletedFromTrack = buf[0x20]
	} else {
		e.FirstTSList = TrackSector{Track: track, Sector: buf[0x01]}
	}
	e.Type = FileType(buf[0x02])
	raw := make([]byte, 30)
	copy(raw, buf[0x03:0x21])
	e.RawName = raw
	e.CookedName = core.CookHighASCII(raw)
	// Trim trailing high-ASCII spaces (0xA0 cooked to 0x20) that pad the
	// fixed 30-byte field.
	n := len(e.CookedName)
	for n > 0 && e.CookedName[n-1] == ' ' {
		n--
	}
	e.CookedName = e.CookedName[:n]
	e.SectorCount = int(core.LE16(buf[0x21:0x23]))
	e.AccessFlags = 0
	if e.Type.IsLocked() {
		e.AccessFlags = 1
	}
	return e, true
}

// encodeCatalogEntry serializes e back to a 35-byte catalog slot.
func encodeCatalogEntry(e Entry) []byte {
	buf := make([]byte, catEntrySize)
	if e.Deleted {
		buf[0x00] = deletedTrackMarker
		buf[0x20] = e.DeletedFromTrack
	} else {
		buf[0x00] = e.FirstTSList.Track
		buf[0x01] = e.FirstTSList.Sector
	}
	buf[0x02] = byte(e.Type)
	padded := core.UncookToHighASCII(padName(e.CookedName, 30))
	copy(buf[0x03:0x21], padded)
	core.PutLE16(buf[0x21:0x23], uint16(e.SectorCount))
	return buf
}

func padName(name string, width int) string {
	r := []rune(name)
	if len(r) > width {
		r = r[:width]
	}
	for len(r) < width {
		r = append(r, ' ')
	}
	return string(r)
}
