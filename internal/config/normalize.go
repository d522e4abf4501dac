package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}

	if c.Memory.BloatFactor == 0 {
		c.Memory.BloatFactor = defaultBloatFactor
	}
	if c.Memory.BytesPerItem == 0 {
		c.Memory.BytesPerItem = defaultBytesPerItem
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = defaultWorkerCount
	}
	if c.Workers.Units == 0 {
		c.Workers.Units = defaultUnitWorkers
	}

	c.Processing.Version = strings.TrimSpace(c.Processing.Version)
	c.Processing.DataType = strings.ToLower(strings.TrimSpace(c.Processing.DataType))
	if c.Processing.DataType == "" {
		c.Processing.DataType = defaultDataType
	}
	if c.Processing.BlockRows == 0 {
		c.Processing.BlockRows = defaultBlockRows
	}
	if c.Processing.BlockCols == 0 {
		c.Processing.BlockCols = defaultBlockCols
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}
