package geotiff

// Classic TIFF 6.0 tags, plus the GeoTIFF and GDAL extensions this codec
// understands. Tiled layouts, palettes, and predictors are out of scope:
// every file the pipeline writes is strip-based, chunky-interleaved, with a
// single sample format per file.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNodata      = 42113
)

const (
	typeByte   = 1
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

const (
	compressionNone    = 1
	compressionDeflate = 8
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// GeoTIFF keys carried in the GeoKeyDirectory.
const (
	geoKeyModelType      = 1024
	geoKeyRasterType     = 1025
	geoKeyGeographicType = 2048
	geoKeyProjectedCS    = 3072
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterTypePixelIsArea = 1
)

func typeSize(typ uint16) int {
	switch typ {
	case typeByte, typeASCII:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeDouble:
		return 8
	default:
		return 0
	}
}
