package muxer

// annexBToAVCC rewrites Annex-B start-code-delimited NAL units into
// AVCC's 4-byte big-endian length-prefixed form, which fragmented MP4
// requires. Grounded on the byte-scanning approach of a streaming H.264
// transport's Annex-B-to-AVC converter.
func annexBToAVCC(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	if startCodeLength(data) == 0 {
		// No leading start code: the encoder already emits
		// length-prefixed payloads (the combination that comes with avcC
		// extradata), so pass them through untouched.
		return append([]byte(nil), data...)
	}

	out := make([]byte, 0, len(data)+16)
	offset := 0
	for offset < len(data) {
		pos := findStartCode(data[offset:])
		if pos == -1 {
			appendLengthPrefixed(&out, data[offset:])
			break
		}
		actual := offset + pos
		if actual > offset {
			appendLengthPrefixed(&out, data[offset:actual])
		}
		offset = actual + startCodeLength(data[actual:])
	}
	return out
}

func appendLengthPrefixed(out *[]byte, nal []byte) {
	if len(nal) == 0 {
		return
	}
	n := uint32(len(nal))
	*out = append(*out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	*out = append(*out, nal...)
}

func findStartCode(data []byte) int {
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			return i
		}
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			return i
		}
	}
	return -1
}

func startCodeLength(data []byte) int {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return 4
	}
	if len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return 3
	}
	return 0
}

// splitAnnexBUnits returns the individual NAL payloads (without start
// codes) contained in an Annex-B buffer.
func splitAnnexBUnits(data []byte) [][]byte {
	var units [][]byte
	offset := 0
	for offset < len(data) {
		pos := findStartCode(data[offset:])
		if pos == -1 {
			if offset < len(data) {
				units = append(units, data[offset:])
			}
			break
		}
		actual := offset + pos
		if actual > offset {
			units = append(units, data[offset:actual])
		}
		offset = actual + startCodeLength(data[actual:])
	}
	return units
}

const (
	naluTypeMask = 0x1F
	naluTypeSPS  = 7
	naluTypePPS  = 8
)

// extractSPSPPS pulls the first SPS and PPS units out of a
// sequence-header blob. libavcodec extradata arrives in either of two
// layouts depending on the encoder wrapper: an avcC record
// (configurationVersion 1, length-prefixed parameter sets -- what
// GLOBAL_HEADER typically yields from h264_nvenc/libx264) or raw
// Annex-B start-code-delimited NALs. Both are handled.
func extractSPSPPS(seqHeader []byte) (sps, pps []byte) {
	if len(seqHeader) > 0 && seqHeader[0] == 1 {
		return extractSPSPPSFromAVCC(seqHeader)
	}
	for _, nal := range splitAnnexBUnits(seqHeader) {
		if len(nal) == 0 {
			continue
		}
		switch nal[0] & naluTypeMask {
		case naluTypeSPS:
			if sps == nil {
				sps = nal
			}
		case naluTypePPS:
			if pps == nil {
				pps = nal
			}
		}
	}
	return sps, pps
}

// extractSPSPPSFromAVCC parses an AVCDecoderConfigurationRecord: a
// 5-byte header, then a 5-bit SPS count with 16-bit-length-prefixed SPS
// NALs, then an 8-bit PPS count with the same framing.
func extractSPSPPSFromAVCC(rec []byte) (sps, pps []byte) {
	if len(rec) < 7 {
		return nil, nil
	}
	pos := 5
	numSPS := int(rec[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS; i++ {
		if pos+2 > len(rec) {
			return sps, pps
		}
		n := int(rec[pos])<<8 | int(rec[pos+1])
		pos += 2
		if pos+n > len(rec) {
			return sps, pps
		}
		if sps == nil {
			sps = rec[pos : pos+n]
		}
		pos += n
	}
	if pos >= len(rec) {
		return sps, pps
	}
	numPPS := int(rec[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		if pos+2 > len(rec) {
			return sps, pps
		}
		n := int(rec[pos])<<8 | int(rec[pos+1])
		pos += 2
		if pos+n > len(rec) {
			return sps, pps
		}
		if pps == nil {
			pps = rec[pos : pos+n]
		}
		pos += n
	}
	return sps, pps
}

// prependParameterSets prepends length-prefixed SPS/PPS ahead of an
// AVCC access unit, improving robustness for players that seek directly
// to a keyframe without having seen the init segment's avcC box.
func prependParameterSets(avcc, sps, pps []byte) []byte {
	if len(avcc) == 0 || len(sps) == 0 || len(pps) == 0 {
		return avcc
	}
	out := make([]byte, 0, len(avcc)+len(sps)+len(pps)+8)
	appendLengthPrefixed(&out, sps)
	appendLengthPrefixed(&out, pps)
	out = append(out, avcc...)
	return out
}
