// Package manifest reads the list of generated output files that the site
// build writes next to its output.
package manifest

import (
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

var (
	ErrNotFound  = errors.New("manifest not found")
	ErrMalformed = errors.New("manifest malformed")
)

// Path returns the manifest location for a project root.
func Path(root string) string {
	return filepath.Join(root, "out", "public.json")
}

// Read loads <root>/out/public.json and returns its names in file order.
// Duplicates are kept.
func Read(fsys afero.Fs, root string) ([]string, error) {
	p := Path(root)
	data, err := afero.ReadFile(fsys, p)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.Mark(err, ErrNotFound), "read %s", p)
	}
	names, err := Parse(data)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse %s", p)
	}
	return names, nil
}

// Parse decodes a JSON array of strings. A null manifest or a null
// element is malformed.
func Parse(data []byte) ([]string, error) {
	var raw []*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Mark(err, ErrMalformed)
	}
	if raw == nil {
		return nil, xerrors.Mark(xerrors.New("expected a JSON array, got null"), ErrMalformed)
	}
	names := make([]string, len(raw))
	for i, n := range raw {
		if n == nil {
			return nil, xerrors.Mark(xerrors.Newf("element %d is null, want a string", i), ErrMalformed)
		}
		names[i] = *n
	}
	return names, nil
}
