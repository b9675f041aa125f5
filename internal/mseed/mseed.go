// Package mseed reads and writes miniSEED, the record-oriented archive
// format produced by seismic data loggers. Reading supports the common
// integer, float and Steim-compressed encodings; writing emits plain
// FLOAT32 records, which is what the station archiver stores.
package mseed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ErrNoRecords reports a stream that contained no decodable data records.
var ErrNoRecords = errors.New("mseed: no data records")

// Data encodings from the SEED manual, appendix A.
const (
	encInt16   = 1
	encInt32   = 3
	encFloat32 = 4
	encFloat64 = 5
	encSteim1  = 10
	encSteim2  = 11
)

const (
	headerSize          = 48
	defaultRecordLength = 512
	frameSize           = 64
)

// Segment is the decoded payload of one data record: a gap-free run of
// samples at a fixed rate.
type Segment struct {
	Station    string
	Channel    string
	Start      time.Time
	SampleRate float64
	Data       []float64
}

// End returns the time of the sample following the last one in the
// segment.
func (s Segment) End() time.Time {
	if s.SampleRate <= 0 {
		return s.Start
	}
	d := time.Duration(float64(len(s.Data)) / s.SampleRate * float64(time.Second))
	return s.Start.Add(d)
}

// ReadFile decodes every record in the named file. Files ending in .gz
// are decompressed transparently.
func ReadFile(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("mseed: %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	segs, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("mseed: %s: %w", path, err)
	}
	return segs, nil
}

// Read decodes every record in the stream, in order.
func Read(r io.Reader) ([]Segment, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var segs []Segment
	for off := 0; off+headerSize <= len(raw); {
		seg, recLen, err := decodeRecord(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", off, err)
		}
		if seg != nil {
			segs = append(segs, *seg)
		}
		off += recLen
	}
	if len(segs) == 0 {
		return nil, ErrNoRecords
	}
	return segs, nil
}

// decodeRecord parses one record at the head of b and returns its
// segment (nil for a record with zero samples) and total length.
func decodeRecord(b []byte) (*Segment, int, error) {
	if len(b) < headerSize {
		return nil, 0, io.ErrUnexpectedEOF
	}

	// The fixed header carries no byte-order flag; sniff it from the
	// record start year, which is implausible when read the wrong way.
	var ord binary.ByteOrder = binary.BigEndian
	if !plausibleYear(binary.BigEndian.Uint16(b[20:22])) {
		if !plausibleYear(binary.LittleEndian.Uint16(b[20:22])) {
			return nil, 0, fmt.Errorf("implausible record start year")
		}
		ord = binary.LittleEndian
	}

	station := strings.TrimSpace(string(b[8:13]))
	channel := strings.TrimSpace(string(b[15:18]))
	start := decodeBTime(ord, b[20:30])
	nsamp := int(ord.Uint16(b[30:32]))
	factor := int16(ord.Uint16(b[32:34]))
	mult := int16(ord.Uint16(b[34:36]))
	dataOff := int(ord.Uint16(b[44:46]))
	blkOff := int(ord.Uint16(b[46:48]))

	recLen := defaultRecordLength
	enc := encSteim1
	dataOrd := ord

	for off := blkOff; off != 0 && off+4 <= len(b); {
		btype := int(ord.Uint16(b[off : off+2]))
		next := int(ord.Uint16(b[off+2 : off+4]))
		if btype == 1000 && off+7 <= len(b) {
			enc = int(b[off+4])
			if b[off+5] == 0 {
				dataOrd = binary.LittleEndian
			} else {
				dataOrd = binary.BigEndian
			}
			if p := int(b[off+6]); p >= 6 && p <= 20 {
				recLen = 1 << p
			}
		}
		if next <= off {
			break
		}
		off = next
	}

	if recLen > len(b) {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if nsamp == 0 {
		return nil, recLen, nil
	}
	if dataOff < headerSize || dataOff >= recLen {
		return nil, 0, fmt.Errorf("bad data offset %d", dataOff)
	}

	data, err := decodePayload(enc, dataOrd, b[dataOff:recLen], nsamp)
	if err != nil {
		return nil, 0, err
	}

	return &Segment{
		Station:    station,
		Channel:    channel,
		Start:      start,
		SampleRate: sampleRate(factor, mult),
		Data:       data,
	}, recLen, nil
}

func plausibleYear(y uint16) bool { return y >= 1900 && y <= 2100 }

// decodeBTime parses the 10-byte BTIME structure: year, day-of-year,
// hour, minute, second and fractional seconds in units of 100 us.
func decodeBTime(ord binary.ByteOrder, b []byte) time.Time {
	year := int(ord.Uint16(b[0:2]))
	doy := int(ord.Uint16(b[2:4]))
	fract := int(ord.Uint16(b[8:10]))
	t := time.Date(year, 1, 1, int(b[4]), int(b[5]), int(b[6]), fract*100_000, time.UTC)
	return t.AddDate(0, 0, doy-1)
}

// sampleRate converts the factor/multiplier pair to samples per second.
// Negative values encode periods rather than rates.
func sampleRate(factor, mult int16) float64 {
	if factor == 0 {
		return 0
	}
	rate := float64(factor)
	if factor < 0 {
		rate = -1 / float64(factor)
	}
	switch {
	case mult > 0:
		rate *= float64(mult)
	case mult < 0:
		rate /= -float64(mult)
	}
	return rate
}

func decodePayload(enc int, ord binary.ByteOrder, payload []byte, nsamp int) ([]float64, error) {
	switch enc {
	case encInt16:
		return decodeFixed(ord, payload, nsamp, 2, func(b []byte) float64 {
			return float64(int16(ord.Uint16(b)))
		})
	case encInt32:
		return decodeFixed(ord, payload, nsamp, 4, func(b []byte) float64 {
			return float64(int32(ord.Uint32(b)))
		})
	case encFloat32:
		return decodeFixed(ord, payload, nsamp, 4, func(b []byte) float64 {
			return float64(math.Float32frombits(ord.Uint32(b)))
		})
	case encFloat64:
		return decodeFixed(ord, payload, nsamp, 8, func(b []byte) float64 {
			return math.Float64frombits(ord.Uint64(b))
		})
	case encSteim1, encSteim2:
		return decodeSteim(enc, ord, payload, nsamp)
	default:
		return nil, fmt.Errorf("unsupported encoding %d", enc)
	}
}

func decodeFixed(ord binary.ByteOrder, payload []byte, nsamp, width int, conv func([]byte) float64) ([]float64, error) {
	if nsamp*width > len(payload) {
		return nil, fmt.Errorf("payload truncated: %d samples in %d bytes", nsamp, len(payload))
	}
	out := make([]float64, nsamp)
	for i := range out {
		out[i] = conv(payload[i*width:])
	}
	return out, nil
}

// decodeSteim expands Steim1/Steim2 compressed frames. The first frame
// carries the forward integration constant X0 in word 1; samples are
// reconstructed by accumulating the difference stream onto X0, skipping
// the first difference.
func decodeSteim(enc int, ord binary.ByteOrder, payload []byte, nsamp int) ([]float64, error) {
	nframes := len(payload) / frameSize
	if nframes == 0 {
		return nil, fmt.Errorf("payload too short for a compression frame")
	}

	var x0 int32
	diffs := make([]int32, 0, nsamp)
	for f := 0; f < nframes && len(diffs) < nsamp; f++ {
		frame := payload[f*frameSize : (f+1)*frameSize]
		nibbles := ord.Uint32(frame[0:4])
		for w := 1; w < 16; w++ {
			if f == 0 && w == 1 {
				x0 = int32(ord.Uint32(frame[4:8]))
				continue
			}
			if f == 0 && w == 2 {
				continue // reverse integration constant
			}
			code := (nibbles >> (2 * uint(15-w))) & 0x3
			word := frame[4*w : 4*w+4]
			switch {
			case code == 0:
				// non-data word
			case code == 1:
				for i := 0; i < 4; i++ {
					diffs = append(diffs, int32(int8(word[i])))
				}
			case enc == encSteim1 && code == 2:
				diffs = append(diffs, int32(int16(ord.Uint16(word[0:2]))), int32(int16(ord.Uint16(word[2:4]))))
			case enc == encSteim1 && code == 3:
				diffs = append(diffs, int32(ord.Uint32(word)))
			default:
				diffs = append(diffs, steim2Word(code, ord.Uint32(word))...)
			}
		}
	}
	if len(diffs) < nsamp {
		return nil, fmt.Errorf("compressed stream short: %d of %d samples", len(diffs), nsamp)
	}

	out := make([]float64, nsamp)
	acc := x0
	out[0] = float64(acc)
	for i := 1; i < nsamp; i++ {
		acc += diffs[i]
		out[i] = float64(acc)
	}
	return out, nil
}

// steim2Word expands one Steim2 data word. The top two bits select the
// sub-encoding for codes 2 and 3.
func steim2Word(code uint32, v uint32) []int32 {
	dnib := v >> 30
	switch {
	case code == 2 && dnib == 1:
		return []int32{signExtend(v, 30)}
	case code == 2 && dnib == 2:
		return []int32{signExtend(v>>15, 15), signExtend(v, 15)}
	case code == 2 && dnib == 3:
		return []int32{signExtend(v>>20, 10), signExtend(v>>10, 10), signExtend(v, 10)}
	case code == 3 && dnib == 0:
		return []int32{signExtend(v>>24, 6), signExtend(v>>18, 6), signExtend(v>>12, 6), signExtend(v>>6, 6), signExtend(v, 6)}
	case code == 3 && dnib == 1:
		return []int32{signExtend(v>>25, 5), signExtend(v>>20, 5), signExtend(v>>15, 5), signExtend(v>>10, 5), signExtend(v>>5, 5), signExtend(v, 5)}
	case code == 3 && dnib == 2:
		return []int32{signExtend(v>>24, 4), signExtend(v>>20, 4), signExtend(v>>16, 4), signExtend(v>>12, 4), signExtend(v>>8, 4), signExtend(v>>4, 4), signExtend(v, 4)}
	}
	return nil
}

// signExtend interprets the low bits of v as a signed bits-wide integer.
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// samplesPerRecord is how many FLOAT32 samples fit one written record:
// the payload starts at byte 64 after the header and blockette 1000.
const samplesPerRecord = (defaultRecordLength - 64) / 4

// Marshal encodes samples as a sequence of 512-byte big-endian FLOAT32
// records, the layout the station archiver writes.
func Marshal(station, channel string, start time.Time, rate float64, data []float64) []byte {
	factor, mult := rateToFactor(rate)
	var out []byte
	seq := 1
	for len(data) > 0 {
		n := len(data)
		if n > samplesPerRecord {
			n = samplesPerRecord
		}
		out = append(out, marshalRecord(seq, station, channel, start, factor, mult, data[:n])...)
		elapsed := time.Duration(float64(n) / rate * float64(time.Second))
		start = start.Add(elapsed)
		data = data[n:]
		seq++
	}
	return out
}

func marshalRecord(seq int, station, channel string, start time.Time, factor, mult int16, data []float64) []byte {
	be := binary.BigEndian
	rec := make([]byte, defaultRecordLength)

	copy(rec[0:6], fmt.Sprintf("%06d", seq%1_000_000))
	rec[6] = 'D'
	rec[7] = ' '
	copy(rec[8:13], pad(station, 5))
	copy(rec[13:15], "  ")
	copy(rec[15:18], pad(channel, 3))
	copy(rec[18:20], "GT")

	start = start.UTC()
	be.PutUint16(rec[20:22], uint16(start.Year()))
	be.PutUint16(rec[22:24], uint16(start.YearDay()))
	rec[24] = byte(start.Hour())
	rec[25] = byte(start.Minute())
	rec[26] = byte(start.Second())
	be.PutUint16(rec[28:30], uint16(start.Nanosecond()/100_000))

	be.PutUint16(rec[30:32], uint16(len(data)))
	be.PutUint16(rec[32:34], uint16(factor))
	be.PutUint16(rec[34:36], uint16(mult))
	rec[39] = 1 // one blockette follows
	be.PutUint16(rec[44:46], 64)
	be.PutUint16(rec[46:48], 48)

	// blockette 1000: FLOAT32, big-endian, 2^9 byte records
	be.PutUint16(rec[48:50], 1000)
	be.PutUint16(rec[50:52], 0)
	rec[52] = encFloat32
	rec[53] = 1
	rec[54] = 9

	for i, v := range data {
		be.PutUint32(rec[64+4*i:], math.Float32bits(float32(v)))
	}
	return rec
}

func pad(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// rateToFactor expresses a sample rate as the header's factor and
// multiplier pair. Sub-hertz rates are stored as negative periods.
func rateToFactor(rate float64) (int16, int16) {
	if rate >= 1 {
		return int16(math.Round(rate)), 1
	}
	if rate > 0 {
		return int16(-math.Round(1 / rate)), 1
	}
	return 0, 0
}
