package routeops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
)

// Manifest describes a batch in YAML:
//
//	continue_on_error: true
//	items:
//	  - file: maps/core.csv
//	    kind: digitmap
//	    action: update
//	    name: core.csv
//	  - file: defs/new.def
//	    kind: definition
type Manifest struct {
	ContinueOnError *bool          `yaml:"continue_on_error,omitempty"`
	Items           []ManifestItem `yaml:"items"`
}

// ManifestItem is one entry. Updates and deletes name their record either
// by id or by display name; names are resolved against a fresh listing.
type ManifestItem struct {
	File   string           `yaml:"file,omitempty"`
	Kind   appliance.Kind   `yaml:"kind"`
	Action appliance.Action `yaml:"action,omitempty"`
	ID     string           `yaml:"id,omitempty"`
	Name   string           `yaml:"name,omitempty"`
}

// LoadManifest reads and validates a manifest file. Relative item paths are
// resolved against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m, err := ParseManifest(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	return m, nil
}

// ParseManifest decodes manifest YAML. Unknown fields are rejected.
func ParseManifest(data []byte, baseDir string) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	for i := range m.Items {
		it := &m.Items[i]

		if it.Action == 0 {
			it.Action = appliance.ActionCreate
			if it.ID != "" || it.Name != "" {
				it.Action = appliance.ActionUpdate
			}
		}

		if it.File != "" && baseDir != "" && !filepath.IsAbs(it.File) {
			it.File = filepath.Join(baseDir, it.File)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks every item and reports all problems at once.
func (m *Manifest) Validate() error {
	if len(m.Items) == 0 {
		return errors.New("manifest has no items")
	}

	var errs []error

	for i, it := range m.Items {
		prefix := fmt.Sprintf("item %d", i+1)

		if !it.Kind.Valid() {
			errs = append(errs, fmt.Errorf("%s: kind is required (definition or digitmap)", prefix))
		}

		switch it.Action {
		case appliance.ActionCreate:
			if it.File == "" {
				errs = append(errs, fmt.Errorf("%s: create needs a file", prefix))
			}
		case appliance.ActionUpdate:
			if it.File == "" {
				errs = append(errs, fmt.Errorf("%s: update needs a file", prefix))
			}

			if it.ID == "" && it.Name == "" {
				errs = append(errs, fmt.Errorf("%s: update needs an id or a name", prefix))
			}
		case appliance.ActionDelete:
			if it.ID == "" && it.Name == "" {
				errs = append(errs, fmt.Errorf("%s: delete needs an id or a name", prefix))
			}
		}
	}

	return errors.Join(errs...)
}

// Lister lists the records of one kind. *appliance.Client implements it.
type Lister interface {
	List(ctx context.Context, kind appliance.Kind) ([]appliance.Resource, error)
}

// BatchItems turns the manifest into batch items, resolving display names
// to record ids with one listing per kind that needs it.
func (m *Manifest) BatchItems(ctx context.Context, lister Lister) ([]BatchItem, error) {
	listings := make(map[appliance.Kind][]appliance.Resource)
	items := make([]BatchItem, 0, len(m.Items))

	for i, it := range m.Items {
		id := it.ID

		if id == "" && it.Name != "" {
			res, ok := listings[it.Kind]
			if !ok {
				var err error

				res, err = lister.List(ctx, it.Kind)
				if err != nil {
					return nil, fmt.Errorf("resolving item %d: %w", i+1, err)
				}

				listings[it.Kind] = res
			}

			r, found := appliance.FindByName(res, it.Name)
			if !found {
				return nil, fmt.Errorf("item %d: no %s named %q: %w", i+1, it.Kind.Title(), it.Name, appliance.ErrNotFound)
			}

			id = r.RemoteID
		}

		items = append(items, BatchItem{
			Operation: Operation{Action: it.Action, Kind: it.Kind, RecordID: id},
			Path:      it.File,
		})
	}

	return items, nil
}
