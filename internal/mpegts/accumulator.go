package mpegts

import "slices"

const pidPAT = 0x0000

// programMap tracks which PIDs carry PMT sections.
type programMap struct {
	pmt map[uint16]bool
}

func newProgramMap() *programMap {
	return &programMap{pmt: make(map[uint16]bool)}
}

func (pm *programMap) addPMTPID(pid uint16) { pm.pmt[pid] = true }

func (pm *programMap) isPMTPID(pid uint16) bool { return pm.pmt[pid] }

// packetAccumulator collects the packets of one PID until a payload unit
// is complete.
type packetAccumulator struct {
	pid        uint16
	packets    []*Packet
	programMap *programMap
}

func (pa *packetAccumulator) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		pa.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	// A CC gap without the discontinuity indicator loses the unit in
	// progress; a repeated CC is a duplicate.
	if n := len(pa.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := pa.packets[n-1].Header.ContinuityCounter
		if p.Header.ContinuityCounter != (prev+1)&0x0F {
			if p.Header.ContinuityCounter == prev {
				return nil
			}
			pa.packets = nil
		}
	}

	// Continuation packets are useless without the unit start, which is
	// the normal state right after a seek.
	if len(pa.packets) == 0 && !p.Header.PayloadUnitStartIndicator {
		return nil
	}

	var flushed []*Packet
	if p.Header.PayloadUnitStartIndicator && len(pa.packets) > 0 {
		flushed = pa.packets
		pa.packets = nil
	}
	pa.packets = append(pa.packets, p)

	if flushed == nil && pa.isPSI() && isPSIComplete(pa.packets) {
		flushed = pa.packets
		pa.packets = nil
	}
	return flushed
}

func (pa *packetAccumulator) isPSI() bool {
	return pa.pid == pidPAT || pa.programMap.isPMTPID(pa.pid)
}

func (pa *packetAccumulator) flush() []*Packet {
	flushed := pa.packets
	pa.packets = nil
	return flushed
}

func concatPayloads(packets []*Packet) []byte {
	n := 0
	for _, p := range packets {
		n += len(p.Payload)
	}
	payload := make([]byte, 0, n)
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	return payload
}

// isPSIComplete reports whether the accumulated payloads hold every section
// announced after the pointer field.
func isPSIComplete(packets []*Packet) bool {
	payload := concatPayloads(packets)
	if len(payload) < 1 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if off+3 > len(payload) {
			return false
		}
		if payload[off+1]&0x80 == 0 {
			return true
		}
		sectionLength := int(payload[off+1]&0x0F)<<8 | int(payload[off+2])
		if off+3+sectionLength > len(payload) {
			return false
		}
		off += 3 + sectionLength
	}
	return true
}

// packetPool manages per-PID accumulators.
type packetPool struct {
	accs       map[uint16]*packetAccumulator
	programMap *programMap
}

func newPacketPool(pm *programMap) *packetPool {
	return &packetPool{accs: make(map[uint16]*packetAccumulator), programMap: pm}
}

func (pp *packetPool) add(p *Packet) []*Packet {
	acc, ok := pp.accs[p.Header.PID]
	if !ok {
		acc = &packetAccumulator{pid: p.Header.PID, programMap: pp.programMap}
		pp.accs[p.Header.PID] = acc
	}
	return acc.add(p)
}

// dump flushes every accumulator in PID order so the PAT is processed
// before any PMT.
func (pp *packetPool) dump() [][]*Packet {
	pids := make([]uint16, 0, len(pp.accs))
	for pid := range pp.accs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var all [][]*Packet
	for _, pid := range pids {
		if packets := pp.accs[pid].flush(); len(packets) > 0 {
			all = append(all, packets)
		}
	}
	return all
}

func (pp *packetPool) reset() {
	clear(pp.accs)
}
