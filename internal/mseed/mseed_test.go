package mseed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestMarshalReadRoundtrip(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	data := make([]float64, 300)
	for i := range data {
		data[i] = math.Sin(2 * math.Pi * 2 * float64(i) / 100)
	}

	segs, err := Read(bytes.NewReader(Marshal("GT01", "Z", start, 100, data)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments %d, want 3", len(segs))
	}

	total := 0
	for i, seg := range segs {
		if seg.Station != "GT01" || seg.Channel != "Z" {
			t.Fatalf("segment %d identity %q/%q", i, seg.Station, seg.Channel)
		}
		if seg.SampleRate != 100 {
			t.Fatalf("segment %d rate %v", i, seg.SampleRate)
		}
		for j, v := range seg.Data {
			if math.Abs(v-data[total+j]) > 1e-6 {
				t.Fatalf("sample %d: %v vs %v", total+j, v, data[total+j])
			}
		}
		total += len(seg.Data)
	}
	if total != len(data) {
		t.Fatalf("decoded %d samples, want %d", total, len(data))
	}

	if !segs[0].Start.Equal(start) {
		t.Fatalf("first start %v", segs[0].Start)
	}
	// records must chain without gaps
	if d := segs[1].Start.Sub(segs[0].End()); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("gap between records: %v", d)
	}
}

func TestReadFileGzip(t *testing.T) {
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	data := []float64{1, 2, 3, 4, 5}
	raw := Marshal("GT01", "Z", start, 100, data)

	path := filepath.Join(t.TempDir(), "test.mseed.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	segs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(segs) != 1 || len(segs[0].Data) != 5 {
		t.Fatalf("unexpected segments: %+v", segs)
	}
	for i, v := range segs[0].Data {
		if v != data[i] {
			t.Fatalf("sample %d: %v", i, v)
		}
	}
}

// buildRecord assembles a minimal 512-byte record with a blockette 1000
// in the given byte order around a caller-supplied payload.
func buildRecord(ord binary.ByteOrder, enc int, wordOrder byte, nsamp int, payload []byte) []byte {
	rec := make([]byte, defaultRecordLength)
	copy(rec[0:6], "000001")
	rec[6] = 'D'
	copy(rec[8:13], "GT01 ")
	copy(rec[15:18], "Z  ")
	ord.PutUint16(rec[20:22], 2026)
	ord.PutUint16(rec[22:24], 73)
	ord.PutUint16(rec[30:32], uint16(nsamp))
	ord.PutUint16(rec[32:34], 100) // factor
	ord.PutUint16(rec[34:36], 1)   // multiplier
	rec[39] = 1
	ord.PutUint16(rec[44:46], 64)
	ord.PutUint16(rec[46:48], 48)
	ord.PutUint16(rec[48:50], 1000)
	rec[52] = byte(enc)
	rec[53] = wordOrder
	rec[54] = 9
	copy(rec[64:], payload)
	return rec
}

func TestReadLittleEndianFloat32(t *testing.T) {
	le := binary.LittleEndian
	data := []float64{0.5, -1.5, 2.25}
	payload := make([]byte, 4*len(data))
	for i, v := range data {
		le.PutUint32(payload[4*i:], math.Float32bits(float32(v)))
	}
	rec := buildRecord(le, encFloat32, 0, len(data), payload)

	segs, err := Read(bytes.NewReader(rec))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("segments %d", len(segs))
	}
	for i, v := range segs[0].Data {
		if v != data[i] {
			t.Fatalf("sample %d: %v, want %v", i, v, data[i])
		}
	}
}

func TestReadSteim1(t *testing.T) {
	be := binary.BigEndian
	// one frame: X0=10, one word of four 8-bit differences; the first
	// difference is ignored during reconstruction
	frame := make([]byte, frameSize)
	be.PutUint32(frame[0:4], 1<<(2*(15-3))) // word 3 holds 4x int8
	be.PutUint32(frame[4:8], 10)            // X0
	be.PutUint32(frame[8:12], 16)           // Xn
	frame[12], frame[13], frame[14], frame[15] = 0, 1, 2, byte(int8(3))

	rec := buildRecord(be, encSteim1, 1, 4, frame)
	segs, err := Read(bytes.NewReader(rec))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []float64{10, 11, 13, 16}
	if len(segs[0].Data) != len(want) {
		t.Fatalf("samples %d", len(segs[0].Data))
	}
	for i, v := range segs[0].Data {
		if v != want[i] {
			t.Fatalf("sample %d: %v, want %v", i, v, want[i])
		}
	}
}

func TestReadSteim2SubEncodings(t *testing.T) {
	be := binary.BigEndian
	frame := make([]byte, frameSize)
	// word 3: code 2 with dnib 2, two 15-bit diffs (0, 7)
	// word 4: code 3 with dnib 1, six 5-bit diffs (all -1)
	nibbles := uint32(2)<<(2*(15-3)) | uint32(3)<<(2*(15-4))
	be.PutUint32(frame[0:4], nibbles)
	be.PutUint32(frame[4:8], 100) // X0
	be.PutUint32(frame[12:16], 2<<30|7)
	w := uint32(1) << 30
	for i := 0; i < 6; i++ {
		w |= 0x1f << (5 * uint(i))
	}
	be.PutUint32(frame[16:20], w)

	rec := buildRecord(be, encSteim2, 1, 8, frame)
	segs, err := Read(bytes.NewReader(rec))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []float64{100, 107, 106, 105, 104, 103, 102, 101}
	for i, v := range segs[0].Data {
		if v != want[i] {
			t.Fatalf("sample %d: %v, want %v", i, v, want[i])
		}
	}
}

func TestSampleRateFactorMultiplier(t *testing.T) {
	cases := []struct {
		factor, mult int16
		want         float64
	}{
		{100, 1, 100},
		{20, 5, 100},
		{20, -5, 4},
		{-50, 1, 0.02},
		{0, 1, 0},
	}
	for _, c := range cases {
		if got := sampleRate(c.factor, c.mult); math.Abs(got-c.want) > 1e-12 {
			t.Fatalf("sampleRate(%d,%d) = %v, want %v", c.factor, c.mult, got, c.want)
		}
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader(bytes.Repeat([]byte{0xff}, 512)))
	if err == nil {
		t.Fatal("expected error for garbage input")
	}
	_, err = Read(bytes.NewReader(nil))
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
}
