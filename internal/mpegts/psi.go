package mpegts

import "fmt"

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02

	descriptorLanguage = 0x0A
)

func isPSIPayload(pid uint16, pm *programMap) bool {
	return pid == pidPAT || pm.isPMTPID(pid)
}

// sectionAt returns the bounds of the PSI section starting at off, or ok=false
// when the remaining bytes are stuffing, padding or truncated.
func sectionAt(payload []byte, off int) (end int, ok bool) {
	if off >= len(payload) || payload[off] == 0xFF || off+3 > len(payload) {
		return 0, false
	}
	// section_syntax_indicator is set for PAT/PMT; zero padding has it clear.
	if payload[off+1]&0x80 == 0 {
		return 0, false
	}
	sectionLength := int(payload[off+1]&0x0F)<<8 | int(payload[off+2])
	end = off + 3 + sectionLength
	if end > len(payload) {
		return 0, false
	}
	return end, true
}

func parsePSI(payload []byte, firstPacket *Packet) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var results []*DemuxerData
	for {
		end, ok := sectionAt(payload, off)
		if !ok {
			break
		}
		section := payload[off:end]
		switch section[0] {
		case tableIDPAT:
			pat, err := parsePATSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{FirstPacket: firstPacket, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMTSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{FirstPacket: firstPacket, PMT: pmt})
		}
		off = end
	}
	return results, nil
}

// parsePATSection decodes a PAT: an 8-byte header, 4-byte program entries
// and a trailing CRC32.
func parsePATSection(data []byte) (*PATData, error) {
	if err := checkSection("PAT", data); err != nil {
		return nil, err
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	entryEnd := len(data) - 4
	pat := &PATData{}
	for i := 8; i+4 <= entryEnd; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		if programNumber == 0 {
			continue // NIT
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: programNumber,
			ProgramMapID:  uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3]),
		})
	}
	return pat, nil
}

// parsePMTSection decodes a PMT: a 12-byte header including PCR PID and
// program_info_length, program descriptors, elementary stream entries and a
// trailing CRC32.
func parsePMTSection(data []byte) (*PMTData, error) {
	if err := checkSection("PMT", data); err != nil {
		return nil, err
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	pmt := &PMTData{
		ProgramNumber: uint16(data[3])<<8 | uint16(data[4]),
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}

	entriesEnd := len(data) - 4
	off := 12 + (int(data[10]&0x0F)<<8 | int(data[11]))
	for off+5 <= entriesEnd {
		esInfoLength := int(data[off+3]&0x0F)<<8 | int(data[off+4])
		es := &PMTElementaryStream{
			StreamType:    data[off],
			ElementaryPID: uint16(data[off+1]&0x1F)<<8 | uint16(data[off+2]),
		}
		descEnd := min(off+5+esInfoLength, entriesEnd)
		es.Language = parseLanguage(data[off+5 : descEnd])
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, es)
		off += 5 + esInfoLength
	}
	return pmt, nil
}

// parseLanguage returns the first ISO 639 code in a descriptor loop.
func parseLanguage(desc []byte) string {
	for len(desc) >= 2 {
		tag, n := desc[0], int(desc[1])
		if 2+n > len(desc) {
			return ""
		}
		if tag == descriptorLanguage && n >= 3 {
			return string(desc[2:5])
		}
		desc = desc[2+n:]
	}
	return ""
}
