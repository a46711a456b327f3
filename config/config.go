// Package config loads the fingerprint daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fpc-kitakami/fpcd/device"
	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/vendor/etc/fpcd.yaml"

var ErrInvalid = errors.New("invalid configuration")

type Trustlet struct {
	Path string `mapstructure:"path"`
	Name string `mapstructure:"name"`
}

type Trustlets struct {
	Fingerprint Trustlet `mapstructure:"fingerprint"`
	Keymaster   Trustlet `mapstructure:"keymaster"`
}

type Attrs struct {
	Clock   string `mapstructure:"clock"`
	Prepare string `mapstructure:"prepare"`
	Wake    string `mapstructure:"wake"`
	IRQ     string `mapstructure:"irq"`
}

// Config holds every setting of the daemon.
type Config struct {
	SPIDir     string        `mapstructure:"spi_dir"`
	Attrs      Attrs         `mapstructure:"attrs"`
	IRQTimeout time.Duration `mapstructure:"irq_timeout"`
	BufferSize int           `mapstructure:"buffer_size"`
	DBPath     string        `mapstructure:"db_path"`
	Trustlet   Trustlets     `mapstructure:"trustlet"`
}

// Default returns the settings for the kitakami SPI sensor.
func Default() Config {
	return Config{
		SPIDir: "/sys/bus/spi/devices/spi0.1",
		Attrs: Attrs{
			Clock:   device.DefaultAttrFiles.Clock,
			Prepare: device.DefaultAttrFiles.Prepare,
			Wake:    device.DefaultAttrFiles.Wake,
			IRQ:     device.DefaultAttrFiles.IRQ,
		},
		IRQTimeout: device.DefaultIRQTimeout,
		BufferSize: info.BufferSize,
		DBPath:     "/data/fpc/user.db",
		Trustlet: Trustlets{
			Fingerprint: Trustlet{Path: info.TrustletPath, Name: info.FingerprintTrustletName},
			Keymaster:   Trustlet{Path: info.TrustletPath, Name: info.KeymasterTrustletName},
		},
	}
}

// AttrFiles returns the attribute file names for the device package.
func (c Config) AttrFiles() device.AttrFiles {
	return device.AttrFiles{
		Clock:   c.Attrs.Clock,
		Prepare: c.Attrs.Prepare,
		Wake:    c.Attrs.Wake,
		IRQ:     c.Attrs.IRQ,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.SPIDir == "":
		return fmt.Errorf("spi_dir is empty, %w", ErrInvalid)
	case c.Attrs.Clock == "" || c.Attrs.Prepare == "" || c.Attrs.Wake == "" || c.Attrs.IRQ == "":
		return fmt.Errorf("attribute names must not be empty, %w", ErrInvalid)
	case c.IRQTimeout <= 0:
		return fmt.Errorf("irq_timeout %v must be positive, %w", c.IRQTimeout, ErrInvalid)
	case c.BufferSize < 128:
		return fmt.Errorf("buffer_size %d below 128, %w", c.BufferSize, ErrInvalid)
	case c.DBPath == "":
		return fmt.Errorf("db_path is empty, %w", ErrInvalid)
	case c.Trustlet.Fingerprint.Name == "" || c.Trustlet.Keymaster.Name == "":
		return fmt.Errorf("trustlet names must not be empty, %w", ErrInvalid)
	}

	return nil
}

// Parse decodes YAML from r over the defaults.
func Parse(r io.Reader) (Config, error) {
	raw := map[string]interface{}{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("cannot parse yaml, %w", err)
	}

	c := Default()

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &c,
	})
	if err != nil {
		return Config{}, err
	}

	if err := d.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("cannot unmarshal into structure, %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Load reads the configuration file at path. A missing file yields the
// defaults.
func Load(fs afero.Fs, path string) (Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return Config{}, err
	}
	defer f.Close()

	return Parse(f)
}
