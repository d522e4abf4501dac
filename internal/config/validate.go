package config

import (
	"errors"
	"fmt"

	"cubemill/internal/raster"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMemory(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateMemory() error {
	if c.Memory.CeilingGB <= 0 {
		return errors.New("memory.ceiling_gb must be positive")
	}
	if c.Memory.BloatFactor < 1 {
		return errors.New("memory.bloat_factor must be at least 1")
	}
	if c.Memory.BytesPerItem < 1 {
		return errors.New("memory.bytes_per_item must be positive")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 1 {
		return errors.New("workers.count must be at least 1")
	}
	if c.Workers.Units < 1 {
		return errors.New("workers.units must be at least 1")
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if c.Processing.Version == "" {
		return errors.New("processing.version must be set")
	}
	if c.Processing.Overlap < 0 {
		return errors.New("processing.overlap must not be negative")
	}
	if c.Processing.BlockRows < 1 || c.Processing.BlockCols < 1 {
		return errors.New("processing.block_rows and block_cols must be positive")
	}
	if _, err := raster.ParseDataType(c.Processing.DataType); err != nil {
		return fmt.Errorf("processing.data_type: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// DataType returns the parsed processing data type. Only valid after a
// successful Validate.
func (c *Config) DataType() raster.DataType {
	dtype, _ := raster.ParseDataType(c.Processing.DataType)
	return dtype
}
