package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yinyin/filewatcher/internal/config"
)

func strPtr(s string) *string { return &s }

func TestRegisterBuiltins_Dotfiles(t *testing.T) {
	t.Parallel()

	r := config.NewIgnoranceRegistry()
	config.RegisterBuiltins(r)

	checker, err := r.Lookup("dotfiles")
	require.NoError(t, err)
	require.NotNil(t, checker)

	require.True(t, checker(nil, strPtr(".hidden")))
	require.False(t, checker(nil, strPtr("visible.txt")))
}

func TestRegisterBuiltins_Tmpfiles(t *testing.T) {
	t.Parallel()

	r := config.NewIgnoranceRegistry()
	config.RegisterBuiltins(r)

	checker, err := r.Lookup("tmpfiles")
	require.NoError(t, err)

	require.True(t, checker(nil, strPtr("draft.txt~")))
	require.True(t, checker(nil, strPtr("session.swp")))
	require.True(t, checker(nil, strPtr("upload.tmp")))
	require.False(t, checker(nil, strPtr("final.txt")))
}
