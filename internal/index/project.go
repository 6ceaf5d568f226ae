package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/frederic-klein/collie/internal/dist"
)

// ReadMarker reads the identity of the release installed for repo/name. A
// missing marker gives ok == false.
func (s *Store) ReadMarker(repo, name string) (id dist.ReleaseIdentity, ok bool, err error) {
	return s.readMarkerAt(s.MarkerPath(repo, name))
}

func (s *Store) readMarkerAt(path string) (dist.ReleaseIdentity, bool, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return dist.ReleaseIdentity{}, false, nil
		}
		return dist.ReleaseIdentity{}, false, fmt.Errorf("reading %s: %w", path, err)
	}
	id, err := dist.ParseReleaseIdentity(string(data))
	if err != nil {
		return dist.ReleaseIdentity{}, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return id, true, nil
}

// WriteMarker records id as the release installed for its package.
func (s *Store) WriteMarker(id dist.ReleaseIdentity) error {
	path := s.MarkerPath(id.Repo, id.Name)
	if err := afero.WriteFile(s.fs, path, []byte(id.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// LoadProject describes the release installed for repo/name as metadata with
// a single release whose path is the release directory. Nothing installed
// gives nil.
func (s *Store) LoadProject(repo, name string) (*dist.PackageMetadata, error) {
	id, ok, err := s.ReadMarker(repo, name)
	if err != nil || !ok {
		return nil, err
	}
	return &dist.PackageMetadata{
		Repo: id.Repo,
		Name: id.Name,
		Releases: []dist.ReleaseMetadata{{
			Version: id.Version.String(),
			Path:    s.ProjectDir(repo, name),
			Digest:  id.Digest,
		}},
	}, nil
}

// Installed returns the identities of every release installed in the
// project, sorted by package name.
func (s *Store) Installed() ([]dist.ReleaseIdentity, error) {
	entries, err := afero.ReadDir(s.fs, s.projectRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.projectRoot, err)
	}

	var ids []dist.ReleaseIdentity
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.projectRoot, entry.Name())

		// A marker directly inside means a package without a repo. Its
		// directory can still hold packages of the repo with the same name.
		id, ok, err := s.readMarkerAt(filepath.Join(dir, MarkerFileName))
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, id)
		}

		children, err := s.childMarkers(dir)
		if err != nil {
			return nil, err
		}
		ids = append(ids, children...)
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].PackageName() < ids[j].PackageName()
	})
	return ids, nil
}

// Overlapping returns the other installed releases whose directories overlap
// the project directory of repo/name. For a package without a repo these are
// the packages of the repo with the same name, installed one level below it.
// For a package with a repo it is the package without a repo whose name is
// that repo.
func (s *Store) Overlapping(repo, name string) ([]dist.ReleaseIdentity, error) {
	if repo == dist.NoRepo {
		return s.childMarkers(s.ProjectDir(repo, name))
	}
	id, ok, err := s.readMarkerAt(filepath.Join(s.projectRoot, repo, MarkerFileName))
	if err != nil || !ok {
		return nil, err
	}
	return []dist.ReleaseIdentity{id}, nil
}

// childMarkers reads the markers of the directories directly inside dir.
func (s *Store) childMarkers(dir string) ([]dist.ReleaseIdentity, error) {
	children, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var ids []dist.ReleaseIdentity
	for _, child := range children {
		if !child.IsDir() {
			continue
		}
		id, ok, err := s.readMarkerAt(filepath.Join(dir, child.Name(), MarkerFileName))
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
