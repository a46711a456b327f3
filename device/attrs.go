package device

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Attr names one of the sensor's control attributes.
type Attr int

const (
	AttrClock Attr = iota
	AttrPrepare
	AttrWake
	AttrIRQ
)

func (a Attr) String() string {
	switch a {
	case AttrClock:
		return "clock"
	case AttrPrepare:
		return "prepare"
	case AttrWake:
		return "wake"
	case AttrIRQ:
		return "irq"
	default:
		return fmt.Sprintf("attr(%d)", int(a))
	}
}

// AttrWriter writes a value into a control attribute.
type AttrWriter interface {
	WriteAttr(a Attr, value string) error
}

// AttrFiles maps attributes to file names inside the device directory.
type AttrFiles struct {
	Clock   string
	Prepare string
	Wake    string
	IRQ     string
}

// DefaultAttrFiles are the attribute names exposed by the SPI sensor driver.
var DefaultAttrFiles = AttrFiles{
	Clock:   "clk_enable",
	Prepare: "spi_prepare",
	Wake:    "wakeup_enable",
	IRQ:     "irq",
}

// Path returns the file backing a inside dir.
func (f AttrFiles) Path(dir string, a Attr) string {
	var name string

	switch a {
	case AttrClock:
		name = f.Clock
	case AttrPrepare:
		name = f.Prepare
	case AttrWake:
		name = f.Wake
	case AttrIRQ:
		name = f.IRQ
	}

	return filepath.Join(dir, name)
}

// SysfsAttrs writes attributes of a sysfs device directory.
type SysfsAttrs struct {
	fs    afero.Fs
	dir   string
	files AttrFiles
}

// NewSysfsAttrs returns a SysfsAttrs rooted at dir. A nil fs means the host
// filesystem.
func NewSysfsAttrs(fs afero.Fs, dir string, files AttrFiles) *SysfsAttrs {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &SysfsAttrs{
		fs:    fs,
		dir:   dir,
		files: files,
	}
}

// WriteAttr writes value with a single write, as sysfs expects. The
// attribute file must already exist.
func (s *SysfsAttrs) WriteAttr(a Attr, value string) error {
	path := s.files.Path(s.dir, a)

	file, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("cannot open %s: %v, %w", path, err, ErrDeviceIO)
	}
	defer file.Close()

	if _, err := file.Write([]byte(value)); err != nil {
		return fmt.Errorf("cannot write to %s: %v, %w", path, err, ErrDeviceIO)
	}

	return nil
}
