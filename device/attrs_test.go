package device

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const spiDir = "/sys/bus/spi/devices/spi0.1"

func sysfs(t *testing.T) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	for _, a := range []Attr{AttrClock, AttrPrepare, AttrWake, AttrIRQ} {
		require.NoError(t, afero.WriteFile(fs, DefaultAttrFiles.Path(spiDir, a), []byte("0\n"), 0644))
	}

	return fs
}

func TestAttrFiles_Path(t *testing.T) {
	require.Equal(t, spiDir+"/clk_enable", DefaultAttrFiles.Path(spiDir, AttrClock))
	require.Equal(t, spiDir+"/spi_prepare", DefaultAttrFiles.Path(spiDir, AttrPrepare))
	require.Equal(t, spiDir+"/wakeup_enable", DefaultAttrFiles.Path(spiDir, AttrWake))
	require.Equal(t, spiDir+"/irq", DefaultAttrFiles.Path(spiDir, AttrIRQ))
}

func TestSysfsAttrs_WriteAttr(t *testing.T) {
	fs := sysfs(t)
	s := NewSysfsAttrs(fs, spiDir, DefaultAttrFiles)

	require.NoError(t, s.WriteAttr(AttrPrepare, "enable"))

	got, err := afero.ReadFile(fs, DefaultAttrFiles.Path(spiDir, AttrPrepare))
	require.NoError(t, err)
	require.Equal(t, "enable", string(got))
}

func TestSysfsAttrs_WriteAttrMissing(t *testing.T) {
	s := NewSysfsAttrs(afero.NewMemMapFs(), spiDir, DefaultAttrFiles)
	require.ErrorIs(t, s.WriteAttr(AttrClock, "1"), ErrDeviceIO)
}

func TestSysfsAttrs_Sequencer(t *testing.T) {
	fs := sysfs(t)
	s := NewSequencer(NewSysfsAttrs(fs, spiDir, DefaultAttrFiles), &irqResult{}, 0, nil)

	require.NoError(t, s.Enable())

	clk, err := afero.ReadFile(fs, DefaultAttrFiles.Path(spiDir, AttrClock))
	require.NoError(t, err)
	require.Equal(t, "1", string(clk))

	require.NoError(t, s.Disable())

	prep, err := afero.ReadFile(fs, DefaultAttrFiles.Path(spiDir, AttrPrepare))
	require.NoError(t, err)
	require.Equal(t, "disable", string(prep))
}
