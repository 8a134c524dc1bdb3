package mpegts

import (
	"context"
	"errors"
	"io"
)

// Demuxer reads MPEG-TS packets from a reader and produces DemuxerData
// containing parsed PAT, PMT, and PES payloads.
//
// A read error other than EOF is returned to the caller without losing the
// partially read packet: the next call to NextData resumes filling it. This
// lets network readers report transient stalls.
type Demuxer struct {
	ctx           context.Context
	reader        io.Reader
	readBuf       []byte
	fill          int
	pos           int64
	pool          *packetPool
	programMap    *programMap
	dataBuffer    []*DemuxerData
	packetsParser PacketsParser
	eof           bool
	resyncs       int
}

// NewDemuxer creates a new MPEG-TS demuxer reading from r.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...func(*Demuxer)) *Demuxer {
	pm := newProgramMap()
	d := &Demuxer{
		ctx:        ctx,
		reader:     r,
		readBuf:    make([]byte, PacketSize),
		programMap: pm,
		pool:       newPacketPool(pm),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DemuxerOptStartOffset sets the byte offset of the reader's current
// position, used to label packets when reading starts mid-file.
func DemuxerOptStartOffset(off int64) func(*Demuxer) {
	return func(d *Demuxer) {
		d.pos = off
	}
}

// DemuxerOptPacketsParser sets a custom packet parser callback.
func DemuxerOptPacketsParser(p PacketsParser) func(*Demuxer) {
	return func(d *Demuxer) {
		d.packetsParser = p
	}
}

// Offset returns the byte position of the next unread byte.
func (d *Demuxer) Offset() int64 { return d.pos + int64(d.fill) }

// Resyncs returns how many times the demuxer lost and regained packet sync.
func (d *Demuxer) Resyncs() int { return d.resyncs }

// Reset discards buffered packets and partially assembled units after the
// underlying reader has been repositioned to off. Known PMT PIDs survive.
func (d *Demuxer) Reset(off int64) {
	d.pool.reset()
	d.dataBuffer = nil
	d.eof = false
	d.fill = 0
	d.pos = off
}

// NextData returns the next parsed unit from the stream. Returns io.EOF
// when all data has been consumed.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		pkt, err := d.readPacket()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.eof = true
			d.drainPool()
			continue
		}
		if err != nil {
			return nil, err
		}
		if pkt == nil {
			continue
		}

		flushed := d.pool.add(pkt)
		if flushed == nil {
			continue
		}
		results, err := d.processPackets(flushed)
		if err != nil {
			continue // corrupt section or PES header
		}
		d.dataBuffer = append(d.dataBuffer, results...)
	}
}

// readPacket fills readBuf and parses it. It returns a nil packet when sync
// was lost and the buffer was shifted to the next candidate sync byte.
func (d *Demuxer) readPacket() (*Packet, error) {
	for d.fill < PacketSize {
		n, err := d.reader.Read(d.readBuf[d.fill:])
		d.fill += n
		if err != nil {
			if d.fill < PacketSize {
				if errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, err
			}
			break
		}
		if n == 0 {
			return nil, io.ErrNoProgress
		}
	}

	off := d.pos
	pkt, err := parsePacket(d.readBuf, off)
	if err != nil {
		d.resyncs++
		skip := resyncIndex(d.readBuf)
		if skip < 0 {
			skip = PacketSize
		}
		copy(d.readBuf, d.readBuf[skip:])
		d.fill = PacketSize - skip
		d.pos += int64(skip)
		return nil, nil
	}
	d.fill = 0
	d.pos += PacketSize
	return pkt, nil
}

func (d *Demuxer) drainPool() {
	for _, packets := range d.pool.dump() {
		results, err := d.processPackets(packets)
		if err != nil {
			continue
		}
		d.dataBuffer = append(d.dataBuffer, results...)
	}
}

func (d *Demuxer) processPackets(packets []*Packet) ([]*DemuxerData, error) {
	if len(packets) == 0 {
		return nil, nil
	}
	first := packets[0]

	if d.packetsParser != nil {
		ds, skip, err := d.packetsParser(packets)
		if err != nil {
			return nil, err
		}
		if skip {
			return ds, nil
		}
	}

	payload := concatPayloads(packets)
	if len(payload) == 0 {
		return nil, nil
	}

	if isPSIPayload(first.Header.PID, d.programMap) {
		results, err := parsePSI(payload, first)
		for _, r := range results {
			if r.PAT == nil {
				continue
			}
			for _, p := range r.PAT.Programs {
				d.programMap.addPMTPID(p.ProgramMapID)
			}
		}
		return results, err
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		return []*DemuxerData{{FirstPacket: first, PES: pes}}, nil
	}
	return nil, nil
}
