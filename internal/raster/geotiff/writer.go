package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"cubemill/internal/raster"
)

// Options controls file construction. The writer always emits little-endian
// strip-based files with chunky sample interleaving.
type Options struct {
	// Compress enables zlib-deflate strips.
	Compress bool
}

// targetStripBytes sizes strips so readers touch a bounded amount of data
// per windowed row access.
const targetStripBytes = 64 * 1024

// Write materializes a GeoTIFF at path from per-band sample slices. Each
// band must hold XSize*YSize values in row-major order; NaN samples are
// stored as the nodata value. The file is written through a temporary name
// and renamed into place so a crash never leaves a half-written artifact
// under the final path.
func Write(path string, info raster.Info, bands [][]float64, opts Options) error {
	if info.XSize < 1 || info.YSize < 1 {
		return fmt.Errorf("write %s: invalid size %dx%d", path, info.XSize, info.YSize)
	}
	if len(bands) == 0 {
		return fmt.Errorf("write %s: no bands", path)
	}
	if info.Bands != 0 && info.Bands != len(bands) {
		return fmt.Errorf("write %s: info declares %d bands, got %d", path, info.Bands, len(bands))
	}
	npixels := info.XSize * info.YSize
	for b, band := range bands {
		if len(band) != npixels {
			return fmt.Errorf("write %s: band %d has %d samples, want %d", path, b+1, len(band), npixels)
		}
	}
	if !info.Transform.Valid() {
		return fmt.Errorf("write %s: invalid geotransform", path)
	}
	if math.IsNaN(info.Nodata) {
		return fmt.Errorf("write %s: nodata must be a finite sentinel", path)
	}

	info.Bands = len(bands)
	data, err := encode(info, bands, opts)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func encode(info raster.Info, bands [][]float64, opts Options) ([]byte, error) {
	spp := len(bands)
	size := info.Type.Size()
	rowBytes := info.XSize * spp * size
	rowsPerStrip := max(1, targetStripBytes/rowBytes)
	nstrips := (info.YSize + rowsPerStrip - 1) / rowsPerStrip

	strips, err := encodeStrips(info, bands, rowsPerStrip, opts.Compress)
	if err != nil {
		return nil, err
	}

	entries := buildEntries(info, spp, rowsPerStrip, nstrips, opts.Compress)
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Fixed layout: header, IFD, out-of-line payloads, strip data. Payload
	// sizes are known before strip offsets are, so offsets are patched in
	// after the layout settles.
	ifdSize := 2 + 12*len(entries) + 4
	extra := 0
	for i := range entries {
		if len(entries[i].payload) > 4 {
			entries[i].offset = uint32(8 + ifdSize + extra)
			extra += len(entries[i].payload)
			if extra%2 == 1 {
				extra++
			}
		}
	}

	dataStart := 8 + ifdSize + extra
	offsets := make([]uint32, nstrips)
	counts := make([]uint32, nstrips)
	pos := dataStart
	for s, strip := range strips {
		offsets[s] = uint32(pos)
		counts[s] = uint32(len(strip))
		pos += len(strip)
	}
	for i := range entries {
		switch entries[i].tag {
		case tagStripOffsets:
			entries[i].payload = longsPayload(offsets)
		case tagStripByteCounts:
			entries[i].payload = longsPayload(counts)
		}
	}

	var buf bytes.Buffer
	buf.Grow(pos)
	le := binary.LittleEndian

	buf.WriteString("II")
	writeU16(&buf, le, 42)
	writeU32(&buf, le, 8)

	writeU16(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		writeU16(&buf, le, e.tag)
		writeU16(&buf, le, e.typ)
		writeU32(&buf, le, e.count)
		if len(e.payload) > 4 {
			writeU32(&buf, le, e.offset)
		} else {
			var inline [4]byte
			copy(inline[:], e.payload)
			buf.Write(inline[:])
		}
	}
	writeU32(&buf, le, 0) // no next IFD

	for _, e := range entries {
		if len(e.payload) > 4 {
			buf.Write(e.payload)
			if len(e.payload)%2 == 1 {
				buf.WriteByte(0)
			}
		}
	}
	for _, strip := range strips {
		buf.Write(strip)
	}
	return buf.Bytes(), nil
}

type writeEntry struct {
	tag     uint16
	typ     uint16
	count   uint32
	payload []byte
	offset  uint32
}

func buildEntries(info raster.Info, spp, rowsPerStrip, nstrips int, compress bool) []writeEntry {
	le := binary.LittleEndian
	compression := uint16(compressionNone)
	if compress {
		compression = compressionDeflate
	}

	bits := make([]uint16, spp)
	formats := make([]uint16, spp)
	for i := range bits {
		bits[i] = uint16(info.Type.Size() * 8)
		formats[i] = uint16(sampleFormat(info.Type))
	}

	entries := []writeEntry{
		{tag: tagImageWidth, typ: typeLong, count: 1, payload: longsPayload([]uint32{uint32(info.XSize)})},
		{tag: tagImageLength, typ: typeLong, count: 1, payload: longsPayload([]uint32{uint32(info.YSize)})},
		{tag: tagBitsPerSample, typ: typeShort, count: uint32(spp), payload: shortsPayload(bits)},
		{tag: tagCompression, typ: typeShort, count: 1, payload: shortsPayload([]uint16{compression})},
		{tag: tagPhotometric, typ: typeShort, count: 1, payload: shortsPayload([]uint16{1})},
		{tag: tagSamplesPerPixel, typ: typeShort, count: 1, payload: shortsPayload([]uint16{uint16(spp)})},
		{tag: tagRowsPerStrip, typ: typeLong, count: 1, payload: longsPayload([]uint32{uint32(rowsPerStrip)})},
		{tag: tagStripOffsets, typ: typeLong, count: uint32(nstrips), payload: make([]byte, 4*nstrips)},
		{tag: tagStripByteCounts, typ: typeLong, count: uint32(nstrips), payload: make([]byte, 4*nstrips)},
		{tag: tagPlanarConfig, typ: typeShort, count: 1, payload: shortsPayload([]uint16{1})},
		{tag: tagSampleFormat, typ: typeShort, count: uint32(spp), payload: shortsPayload(formats)},
	}

	scale := doublesPayload(le, []float64{info.Transform.XRes, info.Transform.YRes, 0})
	entries = append(entries, writeEntry{tag: tagModelPixelScale, typ: typeDouble, count: 3, payload: scale})
	tie := doublesPayload(le, []float64{0, 0, 0, info.Transform.XMin, info.Transform.YMax, 0})
	entries = append(entries, writeEntry{tag: tagModelTiepoint, typ: typeDouble, count: 6, payload: tie})

	if keys := geoKeysPayload(info.Transform.CRS); keys != nil {
		entries = append(entries, writeEntry{
			tag: tagGeoKeyDirectory, typ: typeShort,
			count: uint32(len(keys) / 2), payload: keys,
		})
	}
	if info.HasNodata {
		text := strconv.FormatFloat(info.Nodata, 'g', -1, 64) + "\x00"
		entries = append(entries, writeEntry{
			tag: tagGDALNodata, typ: typeASCII,
			count: uint32(len(text)), payload: []byte(text),
		})
	}
	return entries
}

// geoKeysPayload encodes a minimal GeoKeyDirectory for an EPSG-coded CRS.
// An empty or non-EPSG identifier yields no directory; the transform alone
// still places the pixels.
func geoKeysPayload(crs string) []byte {
	code, ok := epsgCode(crs)
	if !ok {
		return nil
	}
	modelType := uint16(modelTypeProjected)
	csKey := uint16(geoKeyProjectedCS)
	if code >= 4000 && code < 5000 {
		modelType = modelTypeGeographic
		csKey = geoKeyGeographicType
	}
	keys := []uint16{
		1, 1, 0, 3,
		geoKeyModelType, 0, 1, modelType,
		geoKeyRasterType, 0, 1, rasterTypePixelIsArea,
		csKey, 0, 1, uint16(code),
	}
	return shortsPayload(keys)
}

func epsgCode(crs string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(rest)
	if err != nil || code < 1 || code > math.MaxUint16 {
		return 0, false
	}
	return code, true
}

func encodeStrips(info raster.Info, bands [][]float64, rowsPerStrip int, compress bool) ([][]byte, error) {
	spp := len(bands)
	size := info.Type.Size()
	le := binary.LittleEndian
	nstrips := (info.YSize + rowsPerStrip - 1) / rowsPerStrip

	strips := make([][]byte, 0, nstrips)
	for s := 0; s < nstrips; s++ {
		firstRow := s * rowsPerStrip
		rows := min(rowsPerStrip, info.YSize-firstRow)
		raw := make([]byte, rows*info.XSize*spp*size)
		i := 0
		for r := firstRow; r < firstRow+rows; r++ {
			for c := 0; c < info.XSize; c++ {
				p := r*info.XSize + c
				for b := 0; b < spp; b++ {
					v := bands[b][p]
					if math.IsNaN(v) {
						if !info.HasNodata {
							return nil, fmt.Errorf("NaN sample at pixel %d band %d with no nodata value", p, b+1)
						}
						v = info.Nodata
					}
					putSample(raw[i:], le, info.Type, v)
					i += size
				}
			}
		}
		if !compress {
			strips = append(strips, raw)
			continue
		}
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("deflate strip %d: %w", s, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("deflate strip %d: %w", s, err)
		}
		strips = append(strips, zbuf.Bytes())
	}
	return strips, nil
}

func putSample(buf []byte, order binary.ByteOrder, dtype raster.DataType, v float64) {
	switch dtype {
	case raster.Uint8:
		buf[0] = uint8(clamp(v, 0, math.MaxUint8))
	case raster.Uint16:
		order.PutUint16(buf, uint16(clamp(v, 0, math.MaxUint16)))
	case raster.Int16:
		order.PutUint16(buf, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case raster.Uint32:
		order.PutUint32(buf, uint32(clamp(v, 0, math.MaxUint32)))
	case raster.Int32:
		order.PutUint32(buf, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case raster.Float32:
		order.PutUint32(buf, math.Float32bits(float32(v)))
	case raster.Float64:
		order.PutUint64(buf, math.Float64bits(v))
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

func sampleFormat(d raster.DataType) int {
	switch {
	case d.Float():
		return sampleFormatFloat
	case d.Signed():
		return sampleFormatInt
	default:
		return sampleFormatUint
	}
}

func shortsPayload(values []uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func longsPayload(values []uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func doublesPayload(order binary.ByteOrder, values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		order.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func writeU16(buf *bytes.Buffer, order binary.ByteOrder, v uint16) {
	var b [2]byte
	order.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, order binary.ByteOrder, v uint32) {
	var b [4]byte
	order.PutUint32(b[:], v)
	buf.Write(b[:])
}
