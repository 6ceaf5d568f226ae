// Package snapshot renders the set of installed releases.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/collie/internal/dist"
)

// Format selects how Emit renders releases.
type Format string

const (
	FormatTable Format = "table"
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
)

// Formats lists every supported format.
var Formats = []Format{FormatTable, FormatPlain, FormatJSON, FormatYAML, FormatTOML}

// ParseFormat validates s as a Format.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q, want one of %v", s, Formats)
}

// digestWidth is how much of a digest the table shows.
const digestWidth = 12

type entry struct {
	Package string `json:"package" yaml:"package" toml:"package"`
	Repo    string `json:"repo" yaml:"repo" toml:"repo"`
	Name    string `json:"name" yaml:"name" toml:"name"`
	Version string `json:"version" yaml:"version" toml:"version"`
	Digest  string `json:"digest" yaml:"digest" toml:"digest"`
}

type document struct {
	Packages []entry `json:"packages" yaml:"packages" toml:"packages"`
}

// Emitter writes installed release listings.
type Emitter struct {
	w io.Writer
}

// NewEmitter creates a new emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes ids in format, sorted by package name.
func (e *Emitter) Emit(ids []dist.ReleaseIdentity, format Format) error {
	sorted := make([]dist.ReleaseIdentity, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		return dist.PackageName(sorted[i].Repo, sorted[i].Name) < dist.PackageName(sorted[j].Repo, sorted[j].Name)
	})

	switch format {
	case FormatTable:
		return e.emitTable(sorted)
	case FormatPlain:
		for _, id := range sorted {
			if _, err := fmt.Fprintln(e.w, id.String()); err != nil {
				return err
			}
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(e.w)
		enc.SetIndent("", "  ")
		return enc.Encode(toDocument(sorted))
	case FormatYAML:
		enc := yaml.NewEncoder(e.w)
		enc.SetIndent(2)
		if err := enc.Encode(toDocument(sorted)); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(e.w).Encode(toDocument(sorted))
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func (e *Emitter) emitTable(ids []dist.ReleaseIdentity) error {
	if len(ids) == 0 {
		_, err := fmt.Fprintln(e.w, "no packages installed")
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow(bold("PACKAGE"), bold("VERSION"), bold("DIGEST"))
	for _, id := range ids {
		digest := id.Digest
		if len(digest) > digestWidth {
			digest = digest[:digestWidth]
		}
		table.AddRow(dist.PackageName(id.Repo, id.Name), color.GreenString(id.Version.String()), digest)
	}
	_, err := fmt.Fprintln(e.w, table)
	return err
}

func toDocument(ids []dist.ReleaseIdentity) document {
	doc := document{Packages: make([]entry, 0, len(ids))}
	for _, id := range ids {
		doc.Packages = append(doc.Packages, entry{
			Package: dist.PackageName(id.Repo, id.Name),
			Repo:    id.Repo,
			Name:    id.Name,
			Version: id.Version.String(),
			Digest:  id.Digest,
		})
	}
	return doc
}
