package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed data/default.cue
var defaultCUE []byte

// schemaCUE constrains catalog files before they reach the Builder.
// Structural checks live here; cross-references (unknown traits, duplicate
// names, threshold ordering) are reported by the Builder.
const schemaCUE = `
#Trait: {
	name:       string & !=""
	thresholds: [...int & >0] & [_, ...]
}

#Entity: {
	name:   string & !=""
	cost:   *0 | (int & >=0)
	traits: *[] | [...string]
}

traits:   [...#Trait]
entities: [...#Entity] & [_, ...]
`

// file is the decoded shape shared by the CUE, JSON and YAML loaders.
type file struct {
	Traits   []fileTrait  `json:"traits" yaml:"traits"`
	Entities []fileEntity `json:"entities" yaml:"entities"`
}

type fileTrait struct {
	Name       string `json:"name" yaml:"name"`
	Thresholds []int  `json:"thresholds" yaml:"thresholds"`
}

type fileEntity struct {
	Name   string   `json:"name" yaml:"name"`
	Cost   int      `json:"cost" yaml:"cost"`
	Traits []string `json:"traits" yaml:"traits"`
}

// LoadFile reads a catalog from path. The format is chosen by extension:
// .yaml and .yml are decoded strictly as YAML, everything else (.cue, .json)
// is compiled as CUE against the catalog schema.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c *Catalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c, err = LoadYAML(bytes.NewReader(data))
	default:
		c, err = LoadCUE(data, path)
	}
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) && cerr.Source == "" {
			cerr.Source = path
		}
		return nil, err
	}
	return c, nil
}

// LoadCUE compiles src (CUE or JSON) against the catalog schema and builds it.
// filename is used only in error positions.
func LoadCUE(src []byte, filename string) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("catalog-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, cueError(err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(err)
	}

	var f file
	if err := unified.Decode(&f); err != nil {
		return nil, cueError(err)
	}
	return f.build()
}

// LoadYAML decodes a YAML catalog. Unknown fields are rejected.
func LoadYAML(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, &Error{Problems: []Problem{{Field: "yaml", Message: err.Error()}}}
	}
	return f.build()
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return LoadCUE(defaultCUE, "default.cue")
})

// Default returns the built-in 60-entity, 22-trait catalog.
// The catalog is built once and shared; it is immutable.
func Default() (*Catalog, error) {
	return loadDefault()
}

func (f file) build() (*Catalog, error) {
	b := NewBuilder()
	for _, t := range f.Traits {
		b.AddTrait(t.Name, t.Thresholds...)
	}
	for _, e := range f.Entities {
		b.AddEntity(e.Name, e.Cost, e.Traits...)
	}
	return b.Build()
}

// cueError converts CUE evaluation errors into a catalog Error with one
// problem per underlying CUE error.
func cueError(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &Error{Problems: []Problem{{Field: "cue", Message: err.Error()}}}
	}
	problems := make([]Problem, 0, len(list))
	for _, e := range list {
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "cue"
		}
		msg := e.Error()
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s (%s:%d:%d)", msg, pos.Filename(), pos.Line(), pos.Column())
		}
		problems = append(problems, Problem{Field: field, Message: msg})
	}
	return &Error{Problems: problems}
}
