package codec

import (
	"encoding/binary"
	"fmt"
)

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP     = 16
	HEVCNALCraNut     = 21
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
)

var startCode = []byte{0, 0, 0, 1}

// NALUnit is one NAL unit without its start code.
type NALUnit struct {
	Type byte
	Data []byte // including the NAL header byte(s)
}

// HEVCNALType extracts the type from the first byte of an HEVC NAL header.
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// splitAnnexB returns the NAL payloads between 3- or 4-byte start codes.
func splitAnnexB(data []byte, minLen int) [][]byte {
	var starts, ends []int
	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		switch {
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			ends = append(ends, i)
			starts = append(starts, i+4)
			i += 4
		case data[i+2] == 1:
			ends = append(ends, i)
			starts = append(starts, i+3)
			i += 3
		default:
			i++
		}
	}
	ends = append(ends[min(1, len(ends)):], len(data))

	var out [][]byte
	for k, s := range starts {
		if e := ends[k]; e-s >= minLen {
			out = append(out, data[s:e])
		}
	}
	return out
}

// ParseAnnexB splits an H.264 Annex B byte stream into NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	var units []NALUnit
	for _, nal := range splitAnnexB(data, 1) {
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}
	return units
}

// ParseAnnexBHEVC splits an H.265 Annex B byte stream into NAL units.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	var units []NALUnit
	for _, nal := range splitAnnexB(data, 2) {
		units = append(units, NALUnit{Type: HEVCNALType(nal[0]), Data: nal})
	}
	return units
}

// AccessUnit summarizes one coded picture.
type AccessUnit struct {
	Keyframe bool
	SPS      []byte
	PPS      []byte
	VPS      []byte
	// SEI holds the caption-capable SEI NAL units, header included.
	SEI   [][]byte
	NALUs int
}

// InspectAccessUnit classifies the NAL units of an Annex B access unit for
// the named codec. A unit carrying no NAL units is reported as an error.
func InspectAccessUnit(codecName string, data []byte) (AccessUnit, error) {
	var au AccessUnit
	switch codecName {
	case H264:
		for _, n := range ParseAnnexB(data) {
			au.NALUs++
			switch n.Type {
			case NALTypeIDR:
				au.Keyframe = true
			case NALTypeSPS:
				au.SPS = n.Data
				au.Keyframe = true
			case NALTypePPS:
				au.PPS = n.Data
			case NALTypeSEI:
				au.SEI = append(au.SEI, n.Data)
			}
		}
	case H265:
		for _, n := range ParseAnnexBHEVC(data) {
			au.NALUs++
			switch {
			case n.Type >= HEVCNALBlaWLP && n.Type <= HEVCNALCraNut:
				au.Keyframe = true
			case n.Type == HEVCNALVPS:
				au.VPS = n.Data
			case n.Type == HEVCNALSPS:
				au.SPS = n.Data
			case n.Type == HEVCNALPPS:
				au.PPS = n.Data
			case n.Type == HEVCNALSEIPrefix && len(n.Data) > 2:
				au.SEI = append(au.SEI, n.Data)
			}
		}
	default:
		return au, fmt.Errorf("codec: %q is not a video codec", codecName)
	}
	if au.NALUs == 0 {
		return au, fmt.Errorf("codec: no NAL units in %d-byte access unit", len(data))
	}
	return au, nil
}

// SEIPayload returns the SEI message bytes following the NAL header.
func SEIPayload(codecName string, nal []byte) []byte {
	if codecName == H265 {
		if len(nal) < 2 {
			return nil
		}
		return nal[2:]
	}
	if len(nal) < 1 {
		return nil
	}
	return nal[1:]
}

// AVCCToAnnexB rewrites 4-byte length-prefixed NAL units with start codes.
// Parameter sets, when given, are prepended.
func AVCCToAnnexB(data []byte, params ...[]byte) ([]byte, error) {
	out := make([]byte, 0, len(data)+16)
	for _, p := range params {
		if len(p) > 0 {
			out = append(out, startCode...)
			out = append(out, p...)
		}
	}
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("codec: truncated AVCC length prefix")
		}
		n := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if n > len(data) {
			return nil, fmt.Errorf("codec: AVCC NAL length %d exceeds %d remaining bytes", n, len(data))
		}
		out = append(out, startCode...)
		out = append(out, data[:n]...)
		data = data[n:]
	}
	return out, nil
}

// AnnexB joins NAL units with 4-byte start codes.
func AnnexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}
