package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommaSliceFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var dest []string
	CommaSliceFlag(fs, &dest, "names", []string{"a"}, "usage")
	require.Equal(t, []string{"a"}, dest)

	require.NoError(t, fs.Parse([]string{"-names", "x,y,z"}))
	require.Equal(t, []string{"x", "y", "z"}, dest)
}

func TestInt64Flag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var dest int64
	Int64Flag(fs, &dest, "admin-id", 7, "usage")
	require.EqualValues(t, 7, dest)
	require.NoError(t, fs.Parse([]string{"-admin-id", "6040522700"}))
	require.EqualValues(t, 6040522700, dest)
}

func TestParseKeyList(t *testing.T) {
	require.Equal(t, []string{"k1", "k2"}, parseKeyList(`["k1","k2"]`))
	require.Equal(t, []string{"k1", "k2"}, parseKeyList("k1, k2"))
	require.Nil(t, parseKeyList(""))
}

func TestLimitsFor(t *testing.T) {
	require.Equal(t, 4, LimitsFor("douyin").DownloadThreads)
	require.Equal(t, DefaultLimits, LimitsFor("nosuch"))
}
