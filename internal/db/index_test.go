package db

import (
	"slices"
	"strings"
	"testing"
)

func TestIndexBuilder_PostIndexShape(t *testing.T) {
	idx, err := NewIndex("postmap:posts:idx").
		Prefix("postmap:vec:").
		Numeric("post_id").
		Tag("author_id").
		VectorHNSW("embedding", "vector", 768, 16, 200).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.Fields) != 3 {
		t.Fatalf("fields count = %d, want 3", len(idx.Fields))
	}
	v := idx.Fields[2]
	if v.Type != IndexFieldVector || v.VectorAlgo != VectorHNSW || v.VectorDim != 768 {
		t.Errorf("unexpected vector field %+v", v)
	}
	if v.VectorDistance != DistanceCosine {
		t.Errorf("distance = %q, want COSINE", v.VectorDistance)
	}
}

func TestIndexBuilder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder *IndexBuilder
		wantErr string
	}{
		{"empty name", NewIndex("").Tag("x"), "index name is required"},
		{"bad name", NewIndex("bad name!").Tag("x"), "invalid characters"},
		{"no fields", NewIndex("idx"), "at least one field"},
		{"zero dim", NewIndex("idx").VectorHNSW("v", "", 0, 0, 0), "positive DIM"},
		{"duplicate", NewIndex("idx").Tag("a").Numeric("a"), "duplicate field name: a"},
		{"alias clash", NewIndex("idx").Tag("vector").VectorHNSW("emb", "vector", 3, 0, 0),
			"duplicate field name: vector"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.builder.Build()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestIndexDefinition_Args(t *testing.T) {
	idx, err := NewIndex("idx").Prefix("p:").Numeric("post_id").Tag("status").
		VectorHNSW("embedding", "vector", 4, 16, 200).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args, err := idx.Args()
	if err != nil {
		t.Fatalf("Args: %v", err)
	}
	want := []string{
		"idx", "ON", "HASH", "PREFIX", "1", "p:", "SCHEMA",
		"post_id", "NUMERIC",
		"status", "TAG",
		"embedding", "AS", "vector", "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32", "DIM", "4", "DISTANCE_METRIC", "COSINE", "M", "16", "EF_CONSTRUCTION", "200",
	}
	if !slices.Equal(args, want) {
		t.Errorf("Args() =\n%v\nwant\n%v", args, want)
	}
}

func TestIndexDefinition_ArgsFlatDefaults(t *testing.T) {
	idx := &IndexDefinition{
		Name:   "idx",
		Fields: []IndexField{{Name: "v", Type: IndexFieldVector, VectorDim: 2, VectorM: 8}},
	}
	args, err := idx.Args()
	if err != nil {
		t.Fatalf("Args: %v", err)
	}
	want := []string{
		"idx", "ON", "HASH", "SCHEMA",
		"v", "VECTOR", "FLAT", "6", "TYPE", "FLOAT32", "DIM", "2", "DISTANCE_METRIC", "COSINE",
	}
	if !slices.Equal(args, want) {
		t.Errorf("Args() = %v, want %v", args, want)
	}
}

func TestIndexDefinition_ArgsUnknownType(t *testing.T) {
	idx := &IndexDefinition{Name: "idx", Fields: []IndexField{{Name: "x", Type: IndexFieldType(99)}}}
	if _, err := idx.Args(); err == nil {
		t.Fatal("expected error for unknown field type")
	}
}

func TestIsValidIdentifier(t *testing.T) {
	for _, s := range []string{"a", "postmap:posts:idx", "A-1_b"} {
		if !IsValidIdentifier(s) {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []string{"", "a b", "a.b", "ü"} {
		if IsValidIdentifier(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestError_Format(t *testing.T) {
	inner := ErrKeyNotFound
	withKey := &Error{Op: OpGet, Key: "k", Err: inner}
	if withKey.Error() != "GET k: db: key not found" {
		t.Errorf("unexpected message %q", withKey.Error())
	}
	noKey := &Error{Op: OpSearch, Err: inner}
	if noKey.Error() != "FT.SEARCH: db: key not found" {
		t.Errorf("unexpected message %q", noKey.Error())
	}
	if noKey.Unwrap() != inner {
		t.Error("Unwrap must return the cause")
	}
}
