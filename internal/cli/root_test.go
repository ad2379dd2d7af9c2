package cli_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/cli"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := cli.NewRootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["serve"])
	assert.True(t, names["version"])
}

func TestRootCommandHasConfigFlag(t *testing.T) {
	root := cli.NewRootCommand()

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	root := cli.NewRootCommand()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), cli.Version)
}
