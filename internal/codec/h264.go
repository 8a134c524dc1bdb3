package codec

import "fmt"

// SPSInfo holds the parameters of an H.264 or H.265 sequence parameter set
// that describe the decoded picture.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
	// FrameRate is derived from VUI timing info; zero when absent.
	FrameRate float64
}

// CodecString returns the RFC 6381 codec parameter (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

func highProfile(idc uint) bool {
	switch idc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit (header byte included, start code
// excluded).
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, ErrShortData
	}
	br := newBitReader(unescapeRBSP(nalu[1:]))

	profile := br.u(8)
	info := SPSInfo{
		ProfileIDC:      byte(profile),
		ConstraintFlags: byte(br.u(8)),
		LevelIDC:        byte(br.u(8)),
	}
	br.ue() // seq_parameter_set_id

	chromaFormat := uint(1)
	separatePlanes := false
	if highProfile(profile) {
		chromaFormat = br.ue()
		if chromaFormat == 3 {
			separatePlanes = br.flag()
		}
		br.ue() // bit_depth_luma_minus8
		br.ue() // bit_depth_chroma_minus8
		br.u(1) // qpprime_y_zero_transform_bypass_flag
		if br.flag() {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := range lists {
				if br.flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					br.skipScalingList(size)
				}
			}
		}
	}

	br.ue() // log2_max_frame_num_minus4
	switch br.ue() {
	case 0:
		br.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		br.u(1)
		br.se()
		br.se()
		for range br.ue() {
			br.se()
		}
	}
	br.ue() // max_num_ref_frames
	br.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := br.ue() + 1
	heightUnits := br.ue() + 1
	frameMbsOnly := br.u(1)
	if frameMbsOnly == 0 {
		br.u(1) // mb_adaptive_frame_field_flag
	}
	br.u(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if br.flag() {
		cropL, cropR, cropT, cropB = br.ue(), br.ue(), br.ue(), br.ue()
	}
	if br.err != nil {
		return SPSInfo{}, fmt.Errorf("codec: H.264 SPS: %w", br.err)
	}

	subW, subH := uint(2), uint(2)
	switch {
	case separatePlanes || chromaFormat == 0 || chromaFormat == 3:
		subW, subH = 1, 1
	case chromaFormat == 2:
		subH = 1
	}
	cropX := subW
	cropY := subH * (2 - frameMbsOnly)
	info.Width = int(widthMbs*16 - cropX*(cropL+cropR))
	info.Height = int(heightUnits*16*(2-frameMbsOnly) - cropY*(cropT+cropB))

	if br.flag() {
		info.FrameRate = parseVUITiming(br)
	}
	return info, nil
}

// parseVUITiming walks the VUI fields preceding timing_info and returns
// time_scale / (2 * num_units_in_tick). A truncated VUI yields zero.
func parseVUITiming(br *bitReader) float64 {
	if br.flag() { // aspect_ratio_info_present_flag
		if br.u(8) == 255 {
			br.u(32)
		}
	}
	if br.flag() { // overscan_info_present_flag
		br.u(1)
	}
	if br.flag() { // video_signal_type_present_flag
		br.u(4)
		if br.flag() {
			br.u(24)
		}
	}
	if br.flag() { // chroma_loc_info_present_flag
		br.ue()
		br.ue()
	}
	if !br.flag() { // timing_info_present_flag
		return 0
	}
	units := br.u(32)
	scale := br.u(32)
	if br.err != nil || units == 0 {
		return 0
	}
	return float64(scale) / float64(2*units)
}
