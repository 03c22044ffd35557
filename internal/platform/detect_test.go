package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultModelDirFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		goos     string
		home     string
		xdg      string
		expected string
	}{
		{name: "linux with xdg", goos: "linux", home: "/home/dev", xdg: "/tmp/xdg-data", expected: "/tmp/xdg-data/voxscribe/models"},
		{name: "linux without xdg", goos: "linux", home: "/home/dev", expected: "/home/dev/.local/share/voxscribe/models"},
		{name: "macos", goos: "darwin", home: "/Users/dev", expected: "/Users/dev/Library/Application Support/voxscribe/models"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir, err := DefaultModelDirFor(tt.goos, tt.home, tt.xdg)
			require.NoError(t, err)
			require.Equal(t, tt.expected, dir)
		})
	}
}

func TestDefaultModelDirForUnsupportedOS(t *testing.T) {
	t.Parallel()

	_, err := DefaultModelDirFor("windows", "/Users/dev", "")
	require.Error(t, err)
}

func TestDefaultConfigPathFor(t *testing.T) {
	t.Parallel()

	path, err := DefaultConfigPathFor("linux", "/home/dev", "")
	require.NoError(t, err)
	require.Equal(t, "/home/dev/.config/voxscribe/config.yaml", path)

	path, err = DefaultConfigPathFor("linux", "/home/dev", "/tmp/xdg-config")
	require.NoError(t, err)
	require.Equal(t, "/tmp/xdg-config/voxscribe/config.yaml", path)

	_, err = DefaultConfigPathFor("linux", "", "")
	require.Error(t, err)
}

func TestDefaultHistoryPathFor(t *testing.T) {
	t.Parallel()

	path, err := DefaultHistoryPathFor("darwin", "/Users/dev", "")
	require.NoError(t, err)
	require.Equal(t, "/Users/dev/Library/Application Support/voxscribe/history.db", path)
}

func TestRuntimeTarget(t *testing.T) {
	t.Parallel()

	require.Equal(t, "linux_arm64", Runtime{OS: "linux", Arch: NormalizeArch("aarch64")}.Target())
	require.Equal(t, "darwin_amd64", Runtime{OS: "darwin", Arch: NormalizeArch("x86_64")}.Target())
}
