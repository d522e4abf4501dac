package config

const (
	defaultOutputDir    = "~/cubemill/output"
	defaultLogDir       = "~/.local/share/cubemill/logs"
	defaultCeilingGB    = 4.0
	defaultBloatFactor  = 5.0
	defaultBytesPerItem = 8
	defaultWorkerCount  = 4
	defaultUnitWorkers  = 1
	defaultVersion      = "v1"
	defaultBlockRows    = 512
	defaultBlockCols    = 512
	defaultDataType     = "float32"
	defaultNodata       = -9999.0
	defaultLogFormat    = "console"
	defaultLogLevel     = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Memory: Memory{
			CeilingGB:    defaultCeilingGB,
			BloatFactor:  defaultBloatFactor,
			BytesPerItem: defaultBytesPerItem,
		},
		Workers: Workers{
			Count: defaultWorkerCount,
			Units: defaultUnitWorkers,
		},
		Processing: Processing{
			Version:   defaultVersion,
			BlockRows: defaultBlockRows,
			BlockCols: defaultBlockCols,
			DataType:  defaultDataType,
			Nodata:    defaultNodata,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
