package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands(t *testing.T) {
	for _, name := range []string{"serve", "migrate", "seed"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestSeedFlags(t *testing.T) {
	for _, flag := range []string{"file", "admin-email", "admin-password"} {
		assert.NotNil(t, seedCmd.Flags().Lookup(flag), flag)
	}
	assert.Equal(t, "f", seedCmd.Flags().Lookup("file").Shorthand)
	assert.NotNil(t, serveCmd.Flags().Lookup("shutdown-timeout"))
}
