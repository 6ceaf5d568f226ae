package snapshot

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/frederic-klein/collie/internal/dist"
)

func testIDs() []dist.ReleaseIdentity {
	return []dist.ReleaseIdentity{
		{Repo: "twbs", Name: "icons", Version: dist.Version{Major: 1, Minor: 5}, Digest: "0123456789abcdef0123"},
		{Repo: "_", Name: "bootstrap", Version: dist.Version{Major: 4, Minor: 4, Patch: 1}, Digest: "abc"},
	}
}

func TestEmitter_Emit_Plain(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEmitter(&buf).Emit(testIDs(), FormatPlain); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	want := "bootstrap@4.4.1:abc\ntwbs/icons@1.5.0:0123456789abcdef0123\n"
	if got := buf.String(); got != want {
		t.Errorf("Emit() =\n%s\nwant:\n%s", got, want)
	}
}

func TestEmitter_Emit_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEmitter(&buf).Emit(testIDs()[1:], FormatJSON); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	want := `{
  "packages": [
    {
      "package": "bootstrap",
      "repo": "_",
      "name": "bootstrap",
      "version": "4.4.1",
      "digest": "abc"
    }
  ]
}
`
	if got := buf.String(); got != want {
		t.Errorf("Emit() =\n%s\nwant:\n%s", got, want)
	}
}

func TestEmitter_Emit_Structured(t *testing.T) {
	tests := []struct {
		format Format
		want   []string
	}{
		{FormatYAML, []string{"packages:", "package: bootstrap", "version: 4.4.1", "package: twbs/icons"}},
		{FormatTOML, []string{"[[packages]]", "bootstrap", "4.4.1", "twbs/icons"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEmitter(&buf).Emit(testIDs(), tt.format); err != nil {
				t.Fatalf("Emit() error = %v", err)
			}
			got := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(got, s) {
					t.Errorf("Emit() output missing %q:\n%s", s, got)
				}
			}
			if strings.Index(got, "bootstrap") > strings.Index(got, "twbs/icons") {
				t.Errorf("Emit() output not sorted:\n%s", got)
			}
		})
	}
}

func TestEmitter_Emit_Table(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	if err := NewEmitter(&buf).Emit(testIDs(), FormatTable); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Emit() got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "PACKAGE") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], "0123456789ab") || strings.Contains(lines[2], "0123456789abc") {
		t.Errorf("digest not shortened: %q", lines[2])
	}

	buf.Reset()
	if err := NewEmitter(&buf).Emit(nil, FormatTable); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if got := buf.String(); got != "no packages installed\n" {
		t.Errorf("Emit(nil) = %q", got)
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		got, err := ParseFormat(string(f))
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %q, %v", f, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) expected error")
	}
	if err := NewEmitter(&bytes.Buffer{}).Emit(nil, Format("xml")); err == nil {
		t.Error("Emit(xml) expected error")
	}
}
