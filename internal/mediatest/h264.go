package mediatest

import "github.com/zsiec/marquee/internal/codec"

// H264SPS encodes a baseline-profile SPS NAL unit (header byte included) for
// a width x height picture with VUI timing for fps. Width and height must be
// multiples of 16.
func H264SPS(width, height, fps int) []byte {
	var w bitWriter
	w.u(8, 66) // profile_idc
	w.u(8, 0xC0)
	w.u(8, 30) // level_idc
	w.ue(0)    // seq_parameter_set_id
	w.ue(0)    // log2_max_frame_num_minus4
	w.ue(0)    // pic_order_cnt_type
	w.ue(0)    // log2_max_pic_order_cnt_lsb_minus4
	w.ue(1)    // max_num_ref_frames
	w.u(1, 0)  // gaps_in_frame_num_value_allowed_flag
	w.ue(uint(width/16 - 1))
	w.ue(uint(height/16 - 1))
	w.u(1, 1) // frame_mbs_only_flag
	w.u(1, 1) // direct_8x8_inference_flag
	w.u(1, 0) // frame_cropping_flag
	w.u(1, 1) // vui_parameters_present_flag
	w.u(1, 0) // aspect_ratio_info_present_flag
	w.u(1, 0) // overscan_info_present_flag
	w.u(1, 0) // video_signal_type_present_flag
	w.u(1, 0) // chroma_loc_info_present_flag
	if fps > 0 {
		w.u(1, 1)
		w.u(32, 1)
		w.u(32, uint(2*fps))
		w.u(1, 1) // fixed_frame_rate_flag
	} else {
		w.u(1, 0)
	}
	w.u(1, 0) // nal_hrd_parameters_present_flag
	w.u(1, 0) // vcl_hrd_parameters_present_flag
	w.u(1, 0) // pic_struct_present_flag
	w.u(1, 0) // bitstream_restriction_flag
	return append([]byte{0x67}, codec.EscapeRBSP(w.trailing())...)
}

// H264PPS returns a minimal PPS NAL unit.
func H264PPS() []byte {
	return []byte{0x68, 0xCE, 0x38, 0x80}
}

// H264Slice returns a fake slice NAL unit; frame makes the payload unique.
func H264Slice(keyframe bool, frame int) []byte {
	hdr := byte(0x41)
	if keyframe {
		hdr = 0x65
	}
	return []byte{hdr, 0x88, 0x84, byte(frame >> 8), byte(frame), 0x21, 0xA0}
}

// H264AccessUnit assembles an Annex B access unit. Keyframes carry SPS and
// PPS; sei, when non-nil, is inserted before the slice.
func H264AccessUnit(sps []byte, keyframe bool, frame int, sei []byte) []byte {
	var nals [][]byte
	nals = append(nals, []byte{0x09, 0xF0}) // AUD
	if keyframe {
		nals = append(nals, sps, H264PPS())
	}
	if sei != nil {
		nals = append(nals, sei)
	}
	nals = append(nals, H264Slice(keyframe, frame))
	return codec.AnnexB(nals...)
}

func oddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for x := b; x != 0; x >>= 1 {
		ones += int(x & 1)
	}
	if ones%2 == 0 {
		b |= 0x80
	}
	return b
}

// CaptionSEI builds an H.264 SEI NAL unit carrying one ATSC A/53 cc_data
// triplet for CEA-608 field 1.
func CaptionSEI(cc1, cc2 byte) []byte {
	payload := []byte{
		0xB5, 0x00, 0x31, // ITU-T T.35 country, ATSC provider
		'G', 'A', '9', '4',
		0x03, // user_data_type_code: cc_data
		0x41, // process_cc_data_flag, cc_count=1
		0xFF, // em_data
		0xFC, oddParity(cc1), oddParity(cc2),
		0xFF, // marker_bits
	}
	sei := []byte{0x04, byte(len(payload))} // user_data_registered_itu_t_t35
	sei = append(sei, payload...)
	sei = append(sei, 0x80) // rbsp trailing bits
	return append([]byte{0x06}, codec.EscapeRBSP(sei)...)
}

// captionScript is a pop-on caption showing "HI".
var captionScript = [][2]byte{
	{0x14, 0x20}, // resume caption loading
	{'H', 'I'},
	{0x14, 0x2F}, // end of caption
	{0x80, 0x80},
}
