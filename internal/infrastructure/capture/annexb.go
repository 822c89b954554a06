package capture

import (
	"bufio"
	"bytes"
	"io"
)

const (
	naluTypeNonIDR = 1
	naluTypeIDR    = 5
	naluTypeSEI    = 6
	naluTypeSPS    = 7
	naluTypePPS    = 8
	naluTypeAUD    = 9

	maxNALUSize = 4 << 20
)

var startCode = []byte{0, 0, 0, 1}

// AccessUnitReader splits an Annex-B H.264 byte stream into access units.
// A NAL unit is only complete once the next start code arrives, so a live
// source is always one NAL unit behind.
type AccessUnitReader struct {
	scanner *bufio.Scanner
	pending []byte
}

func NewAccessUnitReader(r io.Reader) *AccessUnitReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxNALUSize)
	s.Split(splitNALU)
	return &AccessUnitReader{scanner: s}
}

// Next returns the next access unit in Annex-B form with 4-byte start codes.
// Access unit delimiters are dropped. It returns io.EOF at the end of the
// stream.
func (r *AccessUnitReader) Next() ([]byte, error) {
	var au []byte
	hasVCL := false

	for {
		var nalu []byte
		if r.pending != nil {
			nalu, r.pending = r.pending, nil
		} else {
			if !r.scanner.Scan() {
				if err := r.scanner.Err(); err != nil {
					return nil, err
				}
				if hasVCL {
					return au, nil
				}
				return nil, io.EOF
			}
			nalu = r.scanner.Bytes()
		}
		if len(nalu) == 0 {
			continue
		}

		typ := nalu[0] & 0x1f
		if hasVCL && startsAccessUnit(nalu) {
			r.pending = append([]byte(nil), nalu...)
			return au, nil
		}
		if typ == naluTypeAUD {
			continue
		}

		au = append(au, startCode...)
		au = append(au, nalu...)
		if typ == naluTypeNonIDR || typ == naluTypeIDR {
			hasVCL = true
		}
	}
}

// startsAccessUnit reports whether nalu opens a new access unit when the
// current one already holds a coded slice.
func startsAccessUnit(nalu []byte) bool {
	switch typ := nalu[0] & 0x1f; {
	case typ == naluTypeAUD, typ == naluTypeSPS, typ == naluTypePPS, typ == naluTypeSEI:
		return true
	case typ >= 14 && typ <= 18:
		return true
	case typ == naluTypeNonIDR, typ == naluTypeIDR:
		// first_mb_in_slice == 0 is coded as a single 1 bit.
		return len(nalu) > 1 && nalu[1]&0x80 != 0
	default:
		return false
	}
}

func splitNALU(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	idx, scLen := findStartCode(data, 0)
	if idx < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a possible partial start code at the tail.
		if len(data) > 3 {
			return len(data) - 3, nil, nil
		}
		return 0, nil, nil
	}

	start := idx + scLen
	next, _ := findStartCode(data, start)
	if next >= 0 {
		return next, bytes.TrimRight(data[start:next], "\x00"), nil
	}
	if atEOF {
		return len(data), bytes.TrimRight(data[start:], "\x00"), nil
	}
	if idx > 0 {
		return idx, nil, nil
	}
	return 0, nil, nil
}

// findStartCode returns the offset and length of the first 3- or 4-byte
// start code at or after from.
func findStartCode(data []byte, from int) (int, int) {
	for i := from; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		if data[i+2] == 1 {
			if i > from && data[i-1] == 0 {
				return i - 1, 4
			}
			return i, 3
		}
	}
	return -1, 0
}

// NALUnits splits a complete Annex-B buffer.
func NALUnits(au []byte) [][]byte {
	var out [][]byte
	for len(au) > 0 {
		advance, token, _ := splitNALU(au, true)
		if advance == 0 {
			break
		}
		if len(token) > 0 {
			out = append(out, token)
		}
		au = au[advance:]
	}
	return out
}

// IsKeyframe reports whether the access unit carries an IDR slice.
func IsKeyframe(au []byte) bool {
	for _, nalu := range NALUnits(au) {
		if nalu[0]&0x1f == naluTypeIDR {
			return true
		}
	}
	return false
}

// ParameterSets returns the last SPS and PPS found in the access unit.
func ParameterSets(au []byte) (sps, pps []byte) {
	for _, nalu := range NALUnits(au) {
		switch nalu[0] & 0x1f {
		case naluTypeSPS:
			sps = nalu
		case naluTypePPS:
			pps = nalu
		}
	}
	return sps, pps
}
