package db

import (
	"errors"
	"fmt"
	"strconv"
)

// DistanceMetric is the vector distance an index is built with.
type DistanceMetric string

// DistanceCosine is the only metric posts are indexed with.
const DistanceCosine DistanceMetric = "COSINE"

// VectorAlgorithm selects the vector field index type.
type VectorAlgorithm string

const (
	VectorHNSW VectorAlgorithm = "HNSW"
	VectorFlat VectorAlgorithm = "FLAT"
)

// IndexFieldType enumerates the supported schema field types.
type IndexFieldType int

const (
	IndexFieldNumeric IndexFieldType = iota
	IndexFieldTag
	IndexFieldVector
)

// IndexField describes one SCHEMA entry.
type IndexField struct {
	Name  string
	Alias string
	Type  IndexFieldType

	VectorAlgo        VectorAlgorithm
	VectorDim         int
	VectorDistance    DistanceMetric
	VectorM           int
	VectorEFConstruct int
}

// IndexDefinition is an FT index over HASH keys.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Fields   []IndexField
}

// Validate checks that the definition can be rendered.
func (idx *IndexDefinition) Validate() error {
	if idx.Name == "" {
		return errors.New("index name is required")
	}
	if !IsValidIdentifier(idx.Name) {
		return errors.New("index name contains invalid characters")
	}
	if len(idx.Fields) == 0 {
		return errors.New("at least one field is required")
	}

	seen := make(map[string]struct{}, len(idx.Fields))
	for i := range idx.Fields {
		f := &idx.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d: name is required", i)
		}
		name := f.queryName()
		if _, dup := seen[name]; dup {
			return errors.New("duplicate field name: " + name)
		}
		seen[name] = struct{}{}

		if f.Type == IndexFieldVector && f.VectorDim <= 0 {
			return fmt.Errorf("vector field %s requires positive DIM", f.Name)
		}
	}
	return nil
}

// Args renders the FT.CREATE arguments that follow the command name.
func (idx *IndexDefinition) Args() ([]string, error) {
	if err := idx.Validate(); err != nil {
		return nil, err
	}

	args := []string{idx.Name, "ON", "HASH"}
	if len(idx.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		args = append(args, idx.Prefixes...)
	}
	args = append(args, "SCHEMA")

	for i := range idx.Fields {
		f := &idx.Fields[i]
		args = append(args, f.Name)
		if f.Alias != "" {
			args = append(args, "AS", f.Alias)
		}
		switch f.Type {
		case IndexFieldNumeric:
			args = append(args, "NUMERIC")
		case IndexFieldTag:
			args = append(args, "TAG")
		case IndexFieldVector:
			args = append(args, f.vectorArgs()...)
		default:
			return nil, fmt.Errorf("field %s: unknown type %d", f.Name, f.Type)
		}
	}
	return args, nil
}

func (f *IndexField) queryName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func (f *IndexField) vectorArgs() []string {
	algo := f.VectorAlgo
	if algo == "" {
		algo = VectorFlat
	}
	distance := f.VectorDistance
	if distance == "" {
		distance = DistanceCosine
	}

	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(f.VectorDim),
		"DISTANCE_METRIC", string(distance),
	}
	if algo == VectorHNSW {
		if f.VectorM > 0 {
			attrs = append(attrs, "M", strconv.Itoa(f.VectorM))
		}
		if f.VectorEFConstruct > 0 {
			attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(f.VectorEFConstruct))
		}
	}

	out := make([]string, 0, 3+len(attrs))
	out = append(out, "VECTOR", string(algo), strconv.Itoa(len(attrs)))
	return append(out, attrs...)
}

// IsValidIdentifier reports whether s matches [a-zA-Z0-9_:-]+.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == ':' || r == '-':
		default:
			return false
		}
	}
	return true
}

// IndexBuilder assembles an IndexDefinition.
type IndexBuilder struct {
	def IndexDefinition
}

func NewIndex(name string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name}}
}

func (b *IndexBuilder) Prefix(prefixes ...string) *IndexBuilder {
	b.def.Prefixes = append(b.def.Prefixes, prefixes...)
	return b
}

func (b *IndexBuilder) Numeric(name string) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, IndexField{Name: name, Type: IndexFieldNumeric})
	return b
}

func (b *IndexBuilder) Tag(name string) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, IndexField{Name: name, Type: IndexFieldTag})
	return b
}

// VectorHNSW adds an HNSW vector field queried as @alias.
func (b *IndexBuilder) VectorHNSW(name, alias string, dim, m, efConstruct int) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, IndexField{
		Name:              name,
		Alias:             alias,
		Type:              IndexFieldVector,
		VectorAlgo:        VectorHNSW,
		VectorDim:         dim,
		VectorDistance:    DistanceCosine,
		VectorM:           m,
		VectorEFConstruct: efConstruct,
	})
	return b
}

// Build validates and returns the definition.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return &b.def, nil
}
