package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"cubemill/internal/grid"
	"cubemill/internal/raster"
)

// File is an open GeoTIFF. It satisfies raster.Dataset and supports the
// windowed reads the block pipeline is built on; both byte orders are
// accepted on read.
type File struct {
	f            *os.File
	order        binary.ByteOrder
	info         raster.Info
	compression  int
	rowsPerStrip int
	stripOffsets []int64
	stripCounts  []int64
}

// Open parses the header and directory of the GeoTIFF at path. The strip
// data itself is read lazily by ReadWindow, so Open succeeding does not
// guarantee the file is complete; callers that need that guarantee read the
// last pixel.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	file, err := parse(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

func parse(f *os.File) (*File, error) {
	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file (order %q)", header[:2])
	}
	if magic := order.Uint16(header[2:4]); magic != 42 {
		return nil, fmt.Errorf("not a TIFF file (magic %d)", magic)
	}

	entries, err := readIFD(f, order, int64(order.Uint32(header[4:8])))
	if err != nil {
		return nil, err
	}

	t := &File{f: f, order: order}
	if err := t.applyEntries(entries); err != nil {
		return nil, err
	}
	return t, nil
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   [4]byte
}

func readIFD(f *os.File, order binary.ByteOrder, offset int64) (map[uint16]ifdEntry, error) {
	var countBuf [2]byte
	if _, err := f.ReadAt(countBuf[:], offset); err != nil {
		return nil, fmt.Errorf("read IFD count: %w", err)
	}
	count := int(order.Uint16(countBuf[:]))

	buf := make([]byte, count*12)
	if _, err := f.ReadAt(buf, offset+2); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}

	entries := make(map[uint16]ifdEntry, count)
	for i := 0; i < count; i++ {
		raw := buf[i*12 : i*12+12]
		e := ifdEntry{
			tag:   order.Uint16(raw[0:2]),
			typ:   order.Uint16(raw[2:4]),
			count: order.Uint32(raw[4:8]),
		}
		copy(e.raw[:], raw[8:12])
		entries[e.tag] = e
	}
	return entries, nil
}

// valueBytes returns the payload of an entry, following the offset
// indirection when the value does not fit inline.
func (t *File) valueBytes(e ifdEntry) ([]byte, error) {
	size := typeSize(e.typ) * int(e.count)
	if size == 0 {
		return nil, fmt.Errorf("tag %d: unsupported type %d", e.tag, e.typ)
	}
	if size <= 4 {
		return e.raw[:size], nil
	}
	buf := make([]byte, size)
	if _, err := t.f.ReadAt(buf, int64(t.order.Uint32(e.raw[:]))); err != nil {
		return nil, fmt.Errorf("tag %d: read value: %w", e.tag, err)
	}
	return buf, nil
}

func (t *File) uints(e ifdEntry) ([]uint64, error) {
	buf, err := t.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte:
			out[i] = uint64(buf[i])
		case typeShort:
			out[i] = uint64(t.order.Uint16(buf[i*2:]))
		case typeLong:
			out[i] = uint64(t.order.Uint32(buf[i*4:]))
		default:
			return nil, fmt.Errorf("tag %d: type %d is not integral", e.tag, e.typ)
		}
	}
	return out, nil
}

func (t *File) doubles(e ifdEntry) ([]float64, error) {
	buf, err := t.valueBytes(e)
	if err != nil {
		return nil, err
	}
	if e.typ != typeDouble {
		return nil, fmt.Errorf("tag %d: type %d is not double", e.tag, e.typ)
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(t.order.Uint64(buf[i*8:]))
	}
	return out, nil
}

func (t *File) ascii(e ifdEntry) (string, error) {
	buf, err := t.valueBytes(e)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

func (t *File) firstUint(entries map[uint16]ifdEntry, tag uint16, fallback uint64) (uint64, error) {
	e, ok := entries[tag]
	if !ok {
		return fallback, nil
	}
	values, err := t.uints(e)
	if err != nil || len(values) == 0 {
		return fallback, err
	}
	return values[0], err
}

func (t *File) applyEntries(entries map[uint16]ifdEntry) error {
	width, err := t.firstUint(entries, tagImageWidth, 0)
	if err != nil {
		return err
	}
	height, err := t.firstUint(entries, tagImageLength, 0)
	if err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("missing image dimensions")
	}

	spp, err := t.firstUint(entries, tagSamplesPerPixel, 1)
	if err != nil {
		return err
	}
	bits, err := t.firstUint(entries, tagBitsPerSample, 8)
	if err != nil {
		return err
	}
	format, err := t.firstUint(entries, tagSampleFormat, sampleFormatUint)
	if err != nil {
		return err
	}
	dtype, err := dataType(int(bits), int(format))
	if err != nil {
		return err
	}

	compression, err := t.firstUint(entries, tagCompression, compressionNone)
	if err != nil {
		return err
	}
	if compression != compressionNone && compression != compressionDeflate {
		return fmt.Errorf("unsupported compression %d", compression)
	}
	if planar, err := t.firstUint(entries, tagPlanarConfig, 1); err != nil {
		return err
	} else if planar != 1 {
		return fmt.Errorf("unsupported planar configuration %d", planar)
	}

	rps, err := t.firstUint(entries, tagRowsPerStrip, height)
	if err != nil {
		return err
	}
	if rps == 0 || rps > height {
		rps = height
	}

	offsetsEntry, ok := entries[tagStripOffsets]
	if !ok {
		return fmt.Errorf("missing strip offsets")
	}
	offsets, err := t.uints(offsetsEntry)
	if err != nil {
		return err
	}
	countsEntry, ok := entries[tagStripByteCounts]
	if !ok {
		return fmt.Errorf("missing strip byte counts")
	}
	counts, err := t.uints(countsEntry)
	if err != nil {
		return err
	}
	nstrips := int((height + rps - 1) / rps)
	if len(offsets) != nstrips || len(counts) != nstrips {
		return fmt.Errorf("expected %d strips, directory lists %d offsets and %d counts",
			nstrips, len(offsets), len(counts))
	}

	t.compression = int(compression)
	t.rowsPerStrip = int(rps)
	t.stripOffsets = make([]int64, nstrips)
	t.stripCounts = make([]int64, nstrips)
	for i := range offsets {
		t.stripOffsets[i] = int64(offsets[i])
		t.stripCounts[i] = int64(counts[i])
	}

	transform, err := t.readTransform(entries)
	if err != nil {
		return err
	}

	t.info = raster.Info{
		XSize:     int(width),
		YSize:     int(height),
		Bands:     int(spp),
		Type:      dtype,
		Transform: transform,
	}

	if e, ok := entries[tagGDALNodata]; ok {
		text, err := t.ascii(e)
		if err != nil {
			return err
		}
		nodata, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err == nil {
			t.info.Nodata = nodata
			t.info.HasNodata = true
		}
	}
	return nil
}

func (t *File) readTransform(entries map[uint16]ifdEntry) (grid.GeoTransform, error) {
	var tr grid.GeoTransform
	scaleEntry, ok := entries[tagModelPixelScale]
	if !ok {
		return tr, fmt.Errorf("missing pixel scale: file is not georeferenced")
	}
	scale, err := t.doubles(scaleEntry)
	if err != nil {
		return tr, err
	}
	tieEntry, ok := entries[tagModelTiepoint]
	if !ok {
		return tr, fmt.Errorf("missing tiepoint: file is not georeferenced")
	}
	tie, err := t.doubles(tieEntry)
	if err != nil {
		return tr, err
	}
	if len(scale) < 2 || len(tie) < 6 {
		return tr, fmt.Errorf("malformed georeferencing tags")
	}
	tr.XRes = scale[0]
	tr.YRes = scale[1]
	// Tiepoint maps raster point (I,J) to model point (X,Y); anchor at the
	// origin corner regardless of where the tiepoint sits.
	tr.XMin = tie[3] - tie[0]*tr.XRes
	tr.YMax = tie[4] + tie[1]*tr.YRes
	if !tr.Valid() {
		return tr, fmt.Errorf("invalid pixel scale %g x %g", tr.XRes, tr.YRes)
	}

	if e, ok := entries[tagGeoKeyDirectory]; ok {
		keys, err := t.uints(e)
		if err != nil {
			return tr, err
		}
		tr.CRS = crsFromGeoKeys(keys)
	}
	return tr, nil
}

// crsFromGeoKeys extracts an EPSG identifier from the key directory,
// preferring a projected CS code over a geographic one.
func crsFromGeoKeys(keys []uint64) string {
	if len(keys) < 4 {
		return ""
	}
	var geographic uint64
	for i := 4; i+3 < len(keys); i += 4 {
		key, loc, value := keys[i], keys[i+1], keys[i+3]
		if loc != 0 {
			continue
		}
		switch key {
		case geoKeyProjectedCS:
			return "EPSG:" + strconv.FormatUint(value, 10)
		case geoKeyGeographicType:
			geographic = value
		}
	}
	if geographic != 0 {
		return "EPSG:" + strconv.FormatUint(geographic, 10)
	}
	return ""
}

func dataType(bits, format int) (raster.DataType, error) {
	switch {
	case bits == 8 && format == sampleFormatUint:
		return raster.Uint8, nil
	case bits == 16 && format == sampleFormatUint:
		return raster.Uint16, nil
	case bits == 16 && format == sampleFormatInt:
		return raster.Int16, nil
	case bits == 32 && format == sampleFormatUint:
		return raster.Uint32, nil
	case bits == 32 && format == sampleFormatInt:
		return raster.Int32, nil
	case bits == 32 && format == sampleFormatFloat:
		return raster.Float32, nil
	case bits == 64 && format == sampleFormatFloat:
		return raster.Float64, nil
	default:
		return 0, fmt.Errorf("unsupported sample layout: %d bits, format %d", bits, format)
	}
}

// Info returns the parsed raster metadata.
func (t *File) Info() raster.Info { return t.info }

// Close releases the underlying file handle.
func (t *File) Close() error { return t.f.Close() }

// ReadWindow decodes the requested window of one band (1-based) as float64
// samples in row-major order. Only the strips overlapping the window are
// read and decompressed.
func (t *File) ReadWindow(band int, w grid.Block) ([]float64, error) {
	if band < 1 || band > t.info.Bands {
		return nil, fmt.Errorf("band %d out of range [1,%d]", band, t.info.Bands)
	}
	if err := w.Validate(t.info.XSize, t.info.YSize); err != nil {
		return nil, err
	}

	out := make([]float64, w.Pixels())
	spp := t.info.Bands
	size := t.info.Type.Size()

	firstStrip := (w.Row - 1) / t.rowsPerStrip
	lastStrip := (w.LastRow() - 1) / t.rowsPerStrip
	for s := firstStrip; s <= lastStrip; s++ {
		strip, err := t.readStrip(s)
		if err != nil {
			return nil, err
		}
		stripRow := s*t.rowsPerStrip + 1
		r0 := max(w.Row, stripRow)
		r1 := min(w.LastRow(), stripRow+t.rowsPerStrip-1)
		for r := r0; r <= r1; r++ {
			rowBase := (r - stripRow) * t.info.XSize * spp
			for c := w.Col; c <= w.LastCol(); c++ {
				i := (rowBase + (c-1)*spp + band - 1) * size
				out[(r-w.Row)*w.NCols+(c-w.Col)] = t.sample(strip, i)
			}
		}
	}
	return out, nil
}

func (t *File) readStrip(s int) ([]byte, error) {
	raw := make([]byte, t.stripCounts[s])
	if _, err := t.f.ReadAt(raw, t.stripOffsets[s]); err != nil {
		return nil, fmt.Errorf("strip %d: %w", s, err)
	}

	data := raw
	if t.compression == compressionDeflate {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("strip %d: open deflate: %w", s, err)
		}
		data, err = io.ReadAll(zr)
		closeErr := zr.Close()
		if err != nil {
			return nil, fmt.Errorf("strip %d: inflate: %w", s, err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("strip %d: inflate: %w", s, closeErr)
		}
	}

	rows := min(t.rowsPerStrip, t.info.YSize-s*t.rowsPerStrip)
	want := rows * t.info.XSize * t.info.Bands * t.info.Type.Size()
	if len(data) != want {
		return nil, fmt.Errorf("strip %d: %d bytes, want %d (truncated file)", s, len(data), want)
	}
	return data, nil
}

func (t *File) sample(buf []byte, i int) float64 {
	switch t.info.Type {
	case raster.Uint8:
		return float64(buf[i])
	case raster.Uint16:
		return float64(t.order.Uint16(buf[i:]))
	case raster.Int16:
		return float64(int16(t.order.Uint16(buf[i:])))
	case raster.Uint32:
		return float64(t.order.Uint32(buf[i:]))
	case raster.Int32:
		return float64(int32(t.order.Uint32(buf[i:])))
	case raster.Float32:
		return float64(math.Float32frombits(t.order.Uint32(buf[i:])))
	case raster.Float64:
		return math.Float64frombits(t.order.Uint64(buf[i:]))
	default:
		return math.NaN()
	}
}
