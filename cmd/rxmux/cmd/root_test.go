package cmd

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := "Maximum number of PDU buffers outstanding at once (0 means unbounded)"
	wrapped := WrapString(text)
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, strings.Fields(text), strings.Fields(wrapped))
}

func TestProcessConfigNeedsEndpoint(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	initConfig()

	require.NoError(t, ListenCmd.ParseFlags([]string{}))
	err := processConfig(ListenCmd, nil)
	assert.ErrorContains(t, err, "no endpoints configured")
}

func TestProcessConfigFromFlags(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	initConfig()

	require.NoError(t, ListenCmd.ParseFlags([]string{
		"--udp", "127.0.0.1:2152",
		"--sctp", "127.0.0.1:36412",
		"--name", "ENB",
		"--pool-capacity", "8",
	}))
	require.NoError(t, processConfig(ListenCmd, nil))
	assert.Equal(t, "ENB", listenCfg.Name)
	assert.Equal(t, 8, listenCfg.PoolCapacity)
	require.Len(t, listenCfg.UDP, 1)
	assert.Equal(t, "127.0.0.1:2152", listenCfg.UDP[0].String())
	require.Len(t, listenCfg.SCTP, 1)
}
