package codec

import "fmt"

// ParseHEVCSPS parses an H.265 SPS NAL unit (2-byte header included) for
// the picture size and general profile/tier/level.
func ParseHEVCSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, ErrShortData
	}
	br := newBitReader(unescapeRBSP(nalu[2:]))

	br.u(4) // sps_video_parameter_set_id
	subLayers := br.u(3)
	br.u(1) // sps_temporal_id_nesting_flag

	var info SPSInfo
	skipProfileTierLevel(br, &info, subLayers)

	br.ue() // sps_seq_parameter_set_id
	chromaFormat := br.ue()
	if chromaFormat == 3 {
		br.u(1) // separate_colour_plane_flag
	}
	width := br.ue()
	height := br.ue()
	if br.err != nil {
		return SPSInfo{}, fmt.Errorf("codec: H.265 SPS: %w", br.err)
	}
	info.Width, info.Height = int(width), int(height)

	if br.flag() { // conformance_window_flag
		l, r, t, b := br.ue(), br.ue(), br.ue(), br.ue()
		if br.err == nil {
			subW, subH := uint(1), uint(1)
			switch chromaFormat {
			case 1:
				subW, subH = 2, 2
			case 2:
				subW = 2
			}
			info.Width -= int((l + r) * subW)
			info.Height -= int((t + b) * subH)
		}
	}
	return info, nil
}

func skipProfileTierLevel(br *bitReader, info *SPSInfo, subLayers uint) {
	br.u(2) // general_profile_space
	br.u(1) // general_tier_flag
	info.ProfileIDC = byte(br.u(5))
	br.u(32) // general_profile_compatibility_flags
	br.u(48) // progressive/interlaced/constraint flags
	info.LevelIDC = byte(br.u(8))

	if subLayers == 0 {
		return
	}
	profilePresent := make([]bool, subLayers)
	levelPresent := make([]bool, subLayers)
	for i := range subLayers {
		profilePresent[i] = br.flag()
		levelPresent[i] = br.flag()
	}
	for range 8 - subLayers {
		br.u(2) // reserved_zero_2bits
	}
	for i := range subLayers {
		if profilePresent[i] {
			br.u(88)
		}
		if levelPresent[i] {
			br.u(8)
		}
	}
}
