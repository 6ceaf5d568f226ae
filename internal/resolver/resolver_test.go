package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/collie/internal/dist"
	"github.com/frederic-klein/collie/internal/downloader"
	"github.com/frederic-klein/collie/internal/index"
)

const (
	localRoot   = "/home/dev/.collie/packages"
	projectRoot = "/work/site/collie_packages"
)

type fixture struct {
	fs       afero.Fs
	registry map[string]string // path -> body
	status   int               // non-zero forces every registry response
	requests int32
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{fs: afero.NewMemMapFs(), registry: map[string]string{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.requests, 1)
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		body, ok := f.registry[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func metadataJSON(versions ...string) string {
	var releases []string
	for _, v := range versions {
		releases = append(releases, fmt.Sprintf(`{"version":%q,"path":"%s.tgz","digest":"d-%s"}`, v, v, v))
	}
	return `{"releases":[` + strings.Join(releases, ",") + `]}`
}

func (f *fixture) withRegistry(repo, name string, versions ...string) {
	f.registry["/packages/"+repo+"/"+name+"/metadata.json"] = metadataJSON(versions...)
}

func (f *fixture) withLocal(t *testing.T, repo, name string, versions ...string) {
	t.Helper()
	path := localRoot + "/" + repo + "/" + name + "/metadata.json"
	require.NoError(t, afero.WriteFile(f.fs, path, []byte(metadataJSON(versions...)), 0644))
}

func (f *fixture) resolver(offline bool) *Resolver {
	var client *index.RegistryClient
	if !offline {
		client = index.NewRegistryClient(f.server.URL, downloader.NewDownloader(f.fs))
	}
	return NewResolver(index.NewStore(f.fs, localRoot, projectRoot, client), nil)
}

func name(t *testing.T, raw string) dist.ReleaseName {
	t.Helper()
	rn, err := dist.ParseReleaseName(raw)
	require.NoError(t, err)
	return rn
}

func TestResolve_RegistryNewerThanLocal(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.withLocal(t, "_", "bootstrap", "4.3.1")
	f.withRegistry("_", "bootstrap", "4.3.1", "4.4.1")

	// Act
	rls, err := f.resolver(false).Resolve(context.Background(), name(t, "bootstrap"), ModeInstall)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "4.4.1", rls.Version.String())
	assert.Equal(t, dist.TierRegistry, rls.Tier)
	assert.Equal(t, f.server.URL+"/packages/_/bootstrap/4.4.1.tgz", rls.RealLocator)
}

func TestResolve_OfflineUsesLocal(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.withLocal(t, "_", "bootstrap", "4.3.1")
	f.withRegistry("_", "bootstrap", "4.4.1")

	// Act
	rls, err := f.resolver(true).Resolve(context.Background(), name(t, "bootstrap"), ModeInstall)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "4.3.1", rls.Version.String())
	assert.Equal(t, dist.TierLocal, rls.Tier)
	assert.Zero(t, atomic.LoadInt32(&f.requests), "offline resolution must not touch the network")
}

func TestResolve_SameVersionPrefersLocal(t *testing.T) {
	f := newFixture(t)
	f.withLocal(t, "_", "bootstrap", "2.0.0")
	f.withRegistry("_", "bootstrap", "1.0.0", "2.0.0")

	rls, err := f.resolver(false).Resolve(context.Background(), name(t, "bootstrap"), ModeInstall)

	require.NoError(t, err)
	assert.Equal(t, "2.0.0", rls.Version.String())
	assert.Equal(t, dist.TierLocal, rls.Tier)
	assert.Equal(t, localRoot+"/_/bootstrap/2.0.0.tgz", rls.RealLocator)
}

func TestResolve_ExplicitVersion(t *testing.T) {
	f := newFixture(t)
	f.withLocal(t, "twbs", "icons", "1.0.0")
	f.withRegistry("twbs", "icons", "1.1.0", "2.0.0")
	r := f.resolver(false)
	ctx := context.Background()

	tests := []struct {
		raw      string
		wantVer  string
		wantTier dist.Tier
	}{
		{"twbs/icons@1.0.0", "1.0.0", dist.TierLocal},
		{"twbs/icons@1.1.0", "1.1.0", dist.TierRegistry},
		{"twbs/icons", "2.0.0", dist.TierRegistry},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rls, err := r.Resolve(ctx, name(t, tt.raw), ModeReinstall)
			require.NoError(t, err)
			assert.Equal(t, tt.wantVer, rls.Version.String())
			assert.Equal(t, tt.wantTier, rls.Tier)
		})
	}

	_, err := r.Resolve(ctx, name(t, "twbs/icons@9.9.9"), ModeInstall)
	assert.ErrorIs(t, err, dist.ErrReleaseNotFound)
}

func TestResolve_NotFoundAnywhere(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver(false).Resolve(context.Background(), name(t, "nothing"), ModeInstall)

	assert.ErrorIs(t, err, dist.ErrReleaseNotFound)
}

func TestResolve_RegistryUnavailable(t *testing.T) {
	t.Run("falls back to local", func(t *testing.T) {
		f := newFixture(t)
		f.status = http.StatusServiceUnavailable
		f.withLocal(t, "_", "bootstrap", "4.3.1")

		rls, err := f.resolver(false).Resolve(context.Background(), name(t, "bootstrap"), ModeInstall)

		require.NoError(t, err)
		assert.Equal(t, dist.TierLocal, rls.Tier)
	})

	t.Run("surfaces transport error without fallback", func(t *testing.T) {
		f := newFixture(t)
		f.status = http.StatusServiceUnavailable

		_, err := f.resolver(false).Resolve(context.Background(), name(t, "bootstrap"), ModeInstall)

		assert.ErrorIs(t, err, dist.ErrTransport)
		assert.NotErrorIs(t, err, dist.ErrReleaseNotFound)
	})
}

func TestResolve_InvalidRegistryVersion(t *testing.T) {
	f := newFixture(t)
	f.withLocal(t, "_", "bootstrap", "4.3.1")
	f.withRegistry("_", "bootstrap", "4.4", "4.4.1")

	_, err := f.resolver(false).Resolve(context.Background(), name(t, "bootstrap"), ModeInstall)

	assert.ErrorIs(t, err, dist.ErrInvalidVersion)
}

func TestResolve_Uninstall(t *testing.T) {
	f := newFixture(t)
	f.withLocal(t, "_", "bootstrap", "4.4.1")
	r := f.resolver(false)
	ctx := context.Background()

	_, err := r.Resolve(ctx, name(t, "bootstrap"), ModeUninstall)
	assert.ErrorIs(t, err, dist.ErrReleaseNotFound, "only the project tier counts")

	marker := projectRoot + "/bootstrap/" + index.MarkerFileName
	require.NoError(t, afero.WriteFile(f.fs, marker, []byte("bootstrap@4.4.1:abc"), 0644))

	rls, err := r.Resolve(ctx, name(t, "bootstrap"), ModeUninstall)
	require.NoError(t, err)
	assert.Equal(t, dist.TierProject, rls.Tier)
	assert.Equal(t, projectRoot+"/bootstrap", rls.RealLocator)

	_, err = r.Resolve(ctx, name(t, "bootstrap@4.4.0"), ModeUninstall)
	assert.ErrorIs(t, err, dist.ErrReleaseNotFound)
	assert.Zero(t, atomic.LoadInt32(&f.requests))
}

func TestResolve_Prune(t *testing.T) {
	f := newFixture(t)
	f.withLocal(t, "_", "bootstrap", "4.3.1", "4.4.1")
	f.withRegistry("_", "bootstrap", "5.0.0")

	rls, err := f.resolver(false).Resolve(context.Background(), name(t, "bootstrap"), ModePrune)

	require.NoError(t, err)
	assert.Equal(t, "4.4.1", rls.Version.String())
	assert.Equal(t, dist.TierLocal, rls.Tier)
}
