package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (afero.Fs, LoadOptions) {
	t.Helper()
	t.Setenv("COLLIE_LOCAL", "")
	t.Setenv("COLLIE_REGISTRY", "")

	fs := afero.NewMemMapFs()
	return fs, LoadOptions{
		Fs:         fs,
		HomeDir:    "/home/dev",
		ProjectDir: "/work/site",
	}
}

func TestLoad_Defaults(t *testing.T) {
	_, opts := setup(t)

	cfg, project, err := Load(opts)
	require.NoError(t, err)

	assert.Equal(t, "/home/dev/.collie", cfg.Local)
	assert.Equal(t, DefaultRegistry, cfg.Registry)
	assert.Equal(t, DefaultPackagesPath, cfg.PackagesPath)
	assert.Equal(t, "/home/dev/.collie/packages", cfg.LocalPackagesRoot())
	assert.Equal(t, "/work/site/collie_packages", cfg.ProjectPackagesRoot())
	assert.False(t, project.Exists())
	assert.Empty(t, project.Packages)
}

func TestLoad_Precedence(t *testing.T) {
	fs, opts := setup(t)

	require.NoError(t, afero.WriteFile(fs, "/home/dev/.collierc", []byte(
		"local = /opt/user-cache\nregistry = user.registry.test/\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/work/site/collie.json", []byte(
		`{"registry": "https://project.registry.test", "packagesPath": "vendor", "packages": {"bootstrap": "4.4.1"}}`), 0644))

	t.Run("user over default", func(t *testing.T) {
		cfg, _, err := Load(opts)
		require.NoError(t, err)
		assert.Equal(t, "/opt/user-cache", cfg.Local)
	})

	t.Run("project over user", func(t *testing.T) {
		cfg, project, err := Load(opts)
		require.NoError(t, err)
		assert.Equal(t, "https://project.registry.test", cfg.Registry)
		assert.Equal(t, "/work/site/vendor", cfg.ProjectPackagesRoot())
		assert.Equal(t, map[string]string{"bootstrap": "4.4.1"}, project.Packages)
	})

	t.Run("env over project", func(t *testing.T) {
		t.Setenv("COLLIE_REGISTRY", "env.registry.test:8080")
		t.Setenv("COLLIE_LOCAL", "/tmp/env-cache")

		cfg, _, err := Load(opts)
		require.NoError(t, err)
		assert.Equal(t, "http://env.registry.test:8080", cfg.Registry)
		assert.Equal(t, "/tmp/env-cache", cfg.Local)
	})
}

func TestLoad_RelativeLocalIsUnderHome(t *testing.T) {
	fs, opts := setup(t)
	require.NoError(t, afero.WriteFile(fs, "/home/dev/.collierc", []byte("local = cache\n"), 0644))

	cfg, _, err := Load(opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/dev", "cache"), cfg.Local)
}

func TestLoad_BadProjectFile(t *testing.T) {
	fs, opts := setup(t)
	require.NoError(t, afero.WriteFile(fs, "/work/site/collie.json", []byte("{"), 0644))

	_, _, err := Load(opts)
	assert.Error(t, err)
}

func TestNormalizeRegistryURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"localhost:26553", "http://localhost:26553"},
		{"https://registry.test///", "https://registry.test"},
		{"http://registry.test/base/", "http://registry.test/base"},
		{"/", DefaultRegistry},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRegistryURL(tt.input))
		})
	}
}
