// Package mpegts implements MPEG-TS demuxing for transport stream parsing.
// It supports PAT/PMT discovery, PES reassembly with PTS/DTS extraction,
// byte-offset tracking for seek indexing and re-synchronization after a
// reader has been repositioned.
package mpegts

// Elementary stream types recognized in a PMT.
const (
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypeAAC        = 0x0F
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
)

// Packet is a parsed 188-byte MPEG-TS transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
	// Offset is the byte position of the packet's sync byte in the source.
	Offset int64
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// DemuxerData is the output of the demuxer for each logical unit (PAT, PMT,
// or PES packet). Exactly one of PAT, PMT, or PES will be non-nil.
type DemuxerData struct {
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
}

// PID returns the PID the unit was carried on.
func (d *DemuxerData) PID() uint16 {
	if d.FirstPacket == nil {
		return 0
	}
	return d.FirstPacket.Header.PID
}

// Offset returns the byte offset of the first packet of the unit.
func (d *DemuxerData) Offset() int64 {
	if d.FirstPacket == nil {
		return -1
	}
	return d.FirstPacket.Offset
}

// PATData contains the parsed Program Association Table.
type PATData struct {
	Programs []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData contains the parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
	// Language is the ISO 639 code from descriptor 0x0A, if present.
	Language string
}

// PESData contains a reassembled Packetized Elementary Stream.
type PESData struct {
	Data   []byte
	Header *PESHeader
}

// PTS returns the presentation timestamp, if the header carried one.
func (p *PESData) PTS() (int64, bool) {
	if p.Header == nil || p.Header.OptionalHeader == nil || p.Header.OptionalHeader.PTS == nil {
		return 0, false
	}
	return p.Header.OptionalHeader.PTS.Base, true
}

// DTS returns the decode timestamp, falling back to the PTS.
func (p *PESData) DTS() (int64, bool) {
	if p.Header != nil && p.Header.OptionalHeader != nil && p.Header.OptionalHeader.DTS != nil {
		return p.Header.OptionalHeader.DTS.Base, true
	}
	return p.PTS()
}

// PESHeader contains the parsed PES packet header.
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	StreamID       uint8
}

// PESOptionalHeader carries optional PES fields including timestamps.
type PESOptionalHeader struct {
	PTS                    *ClockReference
	DTS                    *ClockReference
	DataAlignmentIndicator bool
}

// ClockReference holds a 33-bit MPEG-TS timestamp base value (90 kHz clock).
type ClockReference struct {
	Base int64
}

// PacketsParser is a callback invoked with accumulated packets for a PID
// before standard parsing. If skip is true, the demuxer skips its own
// parsing for those packets.
type PacketsParser func(ps []*Packet) (ds []*DemuxerData, skip bool, err error)
