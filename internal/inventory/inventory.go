// Package inventory describes the files of one side of a dataset: the shard
// and overflow files of every map and object family, with their declared
// sizes and digests.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileRecord is one shard or overflow file.
type FileRecord struct {
	Path   string `json:"path"   yaml:"path"`
	Size   int64  `json:"size"   yaml:"size"`
	Digest string `json:"digest" yaml:"digest"`
}

// Name is the record's identity within an inventory.
func (r FileRecord) Name() string { return filepath.Base(r.Path) }

// Family is a map or object family: a set of fixed-name shards plus, for
// maps, overflow files too large to shard.
type Family struct {
	Name   string       `json:"name"             yaml:"name"`
	Shards []FileRecord `json:"shards"           yaml:"shards"`
	Larges []FileRecord `json:"larges,omitempty" yaml:"larges,omitempty"`
}

// Profile is the layout of one side of a dataset.
type Profile struct {
	Maps    []Family `json:"maps"    yaml:"maps"`
	Objects []Family `json:"objects" yaml:"objects"`
}

// LoadProfile reads a profile from a JSON file, or YAML when the extension
// is .yaml or .yml.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	default:
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// Records flattens the profile in discovery order: every map's shards then
// its overflow files, then every object family's shards.
func (p *Profile) Records() []FileRecord {
	var out []FileRecord
	for _, m := range p.Maps {
		out = append(out, m.Shards...)
		out = append(out, m.Larges...)
	}
	for _, o := range p.Objects {
		out = append(out, o.Shards...)
	}
	return out
}

// Index maps base names to records. Names keep first-seen order; a repeated
// name replaces the earlier record.
type Index struct {
	names   []string
	records map[string]FileRecord
}

// NewIndex builds an Index from records.
func NewIndex(records []FileRecord) *Index {
	idx := &Index{records: make(map[string]FileRecord, len(records))}
	for _, r := range records {
		name := r.Name()
		if _, seen := idx.records[name]; !seen {
			idx.names = append(idx.names, name)
		}
		idx.records[name] = r
	}
	return idx
}

// Lookup returns the record for name.
func (i *Index) Lookup(name string) (FileRecord, bool) {
	r, ok := i.records[name]
	return r, ok
}

// Names returns base names in discovery order.
func (i *Index) Names() []string { return i.names }

// Len returns the number of distinct names.
func (i *Index) Len() int { return len(i.names) }

// ErrUnclassified is wrapped by PathInferenceError.
var ErrUnclassified = errors.New("cannot classify file name")

// PathInferenceError reports a name that is neither a map nor an object
// shard of the profile.
type PathInferenceError struct {
	Name   string
	Reason string
}

func (e *PathInferenceError) Error() string {
	return fmt.Sprintf("infer path for %s: %s", e.Name, e.Reason)
}

func (e *PathInferenceError) Unwrap() error { return ErrUnclassified }

// InferPath places a file that is new to this side next to the shards of
// the family it belongs to. Map files carry "Full" after the family name
// and object files carry "_"; the family is looked up by name among maps
// and objects alike before the kind-specific fallback applies.
func (p *Profile) InferPath(name string) (string, error) {
	switch {
	case strings.Contains(name, "Full"):
		family := name[:strings.Index(name, "Full")]
		fam, ok := p.findFamily(family)
		if !ok {
			if len(p.Maps) == 0 {
				return "", &PathInferenceError{Name: name, Reason: "profile has no maps"}
			}
			fam = p.Maps[0]
		}
		return placeIn(fam, name)

	case strings.Contains(name, "_"):
		family := name[:strings.Index(name, "_")]
		fam, ok := p.findFamily(family)
		if !ok {
			fam, ok = fallbackObject(p.Objects, strings.Contains(name, "sha"))
			if !ok {
				return "", &PathInferenceError{Name: name, Reason: "no matching object family"}
			}
		}
		return placeIn(fam, name)

	default:
		return "", &PathInferenceError{Name: name, Reason: "expected a map or object file"}
	}
}

// findFamily looks name up among maps, then objects.
func (p *Profile) findFamily(name string) (Family, bool) {
	for _, families := range [][]Family{p.Maps, p.Objects} {
		for _, f := range families {
			if f.Name == name {
				return f, true
			}
		}
	}
	return Family{}, false
}

// fallbackObject picks the first sha-keyed family for sha files and the
// first other family (excluding blob storage) for everything else.
func fallbackObject(objects []Family, sha bool) (Family, bool) {
	for _, o := range objects {
		isSha := strings.Contains(o.Name, "sha")
		if sha && isSha {
			return o, true
		}
		if !sha && !isSha && o.Name != "blob" {
			return o, true
		}
	}
	return Family{}, false
}

func placeIn(fam Family, name string) (string, error) {
	if len(fam.Shards) == 0 {
		return "", &PathInferenceError{Name: name, Reason: fmt.Sprintf("family %q has no shards", fam.Name)}
	}
	return filepath.Join(filepath.Dir(fam.Shards[0].Path), name), nil
}
