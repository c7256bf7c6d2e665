package muxer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func TestAnnexBToAVCC_SingleNALU(t *testing.T) {
	nal := []byte{0x65, 0xaa, 0xbb, 0xcc}
	avcc := annexBToAVCC(annexB(nal))

	require.Len(t, avcc, 4+len(nal))
	require.Equal(t, []byte{0x00, 0x00, 0x00, byte(len(nal))}, avcc[:4])
	require.Equal(t, nal, avcc[4:])
}

func TestAnnexBToAVCC_MultipleNALUs(t *testing.T) {
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	slice := []byte{0x65, 0x04, 0x05, 0x06}

	avcc := annexBToAVCC(annexB(sps, pps, slice))
	units := splitLengthPrefixed(t, avcc)
	require.Equal(t, [][]byte{sps, pps, slice}, units)
}

func TestAnnexBToAVCC_PassesThroughLengthPrefixedInput(t *testing.T) {
	avcc := []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x03}
	require.Equal(t, avcc, annexBToAVCC(avcc))
}

func TestExtractSPSPPS_FindsBothUnits(t *testing.T) {
	sps := []byte{0x67, 0xaa}
	pps := []byte{0x68, 0xbb}
	slice := []byte{0x65, 0xcc}

	seq := annexB(sps, pps, slice)
	gotSPS, gotPPS := extractSPSPPS(seq)
	require.Equal(t, sps, gotSPS)
	require.Equal(t, pps, gotPPS)
}

func TestExtractSPSPPS_ParsesAVCCRecord(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x1f}
	pps := []byte{0x68, 0xee}

	rec := []byte{1, 0x64, 0x00, 0x1f, 0xff} // version + profile/compat/level + lengthSize
	rec = append(rec, 0xe1, 0x00, byte(len(sps)))
	rec = append(rec, sps...)
	rec = append(rec, 0x01, 0x00, byte(len(pps)))
	rec = append(rec, pps...)

	gotSPS, gotPPS := extractSPSPPS(rec)
	require.Equal(t, sps, gotSPS)
	require.Equal(t, pps, gotPPS)
}

func TestPrependParameterSets_PrependsSPSAndPPS(t *testing.T) {
	sps := []byte{0x67, 0x01}
	pps := []byte{0x68, 0x02}
	avcc := []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x03}

	out := prependParameterSets(avcc, sps, pps)
	require.True(t, len(out) > len(avcc))

	units := splitLengthPrefixed(t, out)
	require.Equal(t, sps, units[0])
	require.Equal(t, pps, units[1])
}

func splitLengthPrefixed(t *testing.T, data []byte) [][]byte {
	t.Helper()
	var units [][]byte
	for len(data) > 0 {
		require.True(t, len(data) >= 4)
		n := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
		data = data[4:]
		require.True(t, len(data) >= n)
		units = append(units, data[:n])
		data = data[n:]
	}
	return units
}
