package dos33

import "github.com/deploymenttheory/go-apple2fs/core"

// TSList mirrors one track/sector list sector: a link to the next list plus
// up to 122 data-sector pointers. A zero pair inside the list denotes a
// sparse (never-written) sector; the scan records it as -1 in DataUnits and
// keeps walking the list, and Read returns zeros for that sector.
type TSList struct {
	Next       TrackSector
	SectorOffset uint16 // offset, in sectors, of the first pointer in this list
	Pairs      [tsPairsPerList]TrackSector
}

// ParseTSList decodes a 256-byte track/sector list sector.
func ParseTSList(buf []byte) (*TSList, error) {
	if len(buf) != sectorSize {
		return nil, core.NewError(core.KindIOError, "T/S list sector must be %d bytes", sectorSize)
	}
	l := &TSList{
		Next:         TrackSector{Track: buf[0x01], Sector: buf[0x02]},
		SectorOffset: core.LE16(buf[0x05:0x07]),
	}
	for i := 0; i < tsPairsPerList; i++ {
		off := tsListHeader + i*2
		l.Pairs[i] = TrackSector{Track: buf[off], Sector: buf[off+1]}
	}
	return l, nil
}

// Encode serializes the T/S list back to a 256-byte sector.
func (l *TSList) Encode() []byte {
	buf := make([]byte, sectorSize)
	buf[0x01] = l.Next.Track
	buf[0x02] = l.Next.Sector
	core.PutLE16(buf[0x05:0x07], l.SectorOffset)
	for i, p := range l.Pairs {
		off := tsListHeader + i*2
		buf[off] = p.Track
		buf[off+1] = p.Sector
	}
	return buf
}
