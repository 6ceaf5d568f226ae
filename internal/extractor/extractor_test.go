package extractor

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name    string
	content string
	dir     bool
}

func createTestArchive(t *testing.T, fs afero.Fs, path string, entries []entry) {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.content)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
}

func TestExtractor_Extract(t *testing.T) {
	// Arrange
	fs := afero.NewMemMapFs()
	createTestArchive(t, fs, "/cache/bootstrap.tgz", []entry{
		{name: "dist/", dir: true},
		{name: "dist/css/bootstrap.css", content: "body{}"},
		{name: "package.json", content: `{"name":"bootstrap"}`},
	})
	require.NoError(t, fs.MkdirAll("/project/bootstrap", 0755))

	// Act
	err := NewExtractor(fs, nil).Extract("/cache/bootstrap.tgz", "/project/bootstrap")

	// Assert
	require.NoError(t, err)

	css, err := afero.ReadFile(fs, "/project/bootstrap/dist/css/bootstrap.css")
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(css))

	pkg, err := afero.ReadFile(fs, "/project/bootstrap/package.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"bootstrap"}`, string(pkg))
}

func TestExtractor_Extract_RejectsTraversal(t *testing.T) {
	fs := afero.NewMemMapFs()
	createTestArchive(t, fs, "/cache/evil.tgz", []entry{
		{name: "../../etc/passwd", content: "root"},
	})
	require.NoError(t, fs.MkdirAll("/project/evil", 0755))

	err := NewExtractor(fs, nil).Extract("/cache/evil.tgz", "/project/evil")

	assert.Error(t, err)
	exists, _ := afero.Exists(fs, "/etc/passwd")
	assert.False(t, exists)
}

func TestExtractor_Extract_NotGzip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cache/plain.tgz", []byte("not an archive"), 0644))

	err := NewExtractor(fs, nil).Extract("/cache/plain.tgz", "/project/plain")

	assert.ErrorContains(t, err, "decompressing archive")
}

func TestExtractor_Extract_MissingArchive(t *testing.T) {
	err := NewExtractor(afero.NewMemMapFs(), nil).Extract("/cache/none.tgz", "/project/none")

	assert.ErrorContains(t, err, "opening archive")
}
