package defn

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Document is the serialized form of a SimulationDefn. Object order is
// preserved so a round trip rebuilds the same definition.
type Document struct {
	Objects []ObjectDocument `yaml:"objects" json:"objects"`
}

// ObjectDocument is the serialized form of one named ObjectDefn.
type ObjectDocument struct {
	Name   string            `yaml:"name" json:"name"`
	Kind   string            `yaml:"kind" json:"kind"`
	Params map[string]any    `yaml:"params,omitempty" json:"params,omitempty"`
	Refs   map[string]string `yaml:"refs,omitempty" json:"refs,omitempty"`
}

// Document returns the serializable form of d.
func (d *SimulationDefn) Document() Document {
	doc := Document{Objects: make([]ObjectDocument, 0, len(d.objects))}
	for _, o := range d.objects {
		od := ObjectDocument{Name: o.Name, Kind: o.Defn.Kind()}
		if p := o.Defn.Params(); len(p) > 0 {
			od.Params = cloneValue(map[string]any(p)).(map[string]any)
		}
		if refs := o.Defn.RefMap(); len(refs) > 0 {
			od.Refs = refs
		}
		doc.Objects = append(doc.Objects, od)
	}
	return doc
}

// FromDocument rebuilds a SimulationDefn through the kind registry.
func FromDocument(doc Document) (*SimulationDefn, error) {
	objects := make([]NamedObject, 0, len(doc.Objects))
	for i, od := range doc.Objects {
		decode, ok := lookupKind(od.Kind)
		if !ok {
			return nil, fmt.Errorf("objects[%d] %q: %w %q; valid: %s", i, od.Name, ErrUnknownKind, od.Kind, strings.Join(Kinds(), ", "))
		}
		params := od.Params
		if params == nil {
			params = map[string]any{}
		}
		d, err := decode(params, od.Refs)
		if err != nil {
			return nil, fmt.Errorf("objects[%d] %q: %w", i, od.Name, err)
		}
		objects = append(objects, NamedObject{Name: od.Name, Defn: d})
	}
	return New(objects...)
}

// LoadFile reads a definition document. Files ending in .json are parsed as
// JSON, anything else as YAML.
func LoadFile(path string) (*SimulationDefn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a YAML definition document.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func ParseYAML(data []byte) (*SimulationDefn, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing definition YAML: %w", err)
	}
	return FromDocument(doc)
}

// ParseJSON validates data against the definition document schema and
// decodes it.
func ParseJSON(data []byte) (*SimulationDefn, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing definition JSON: %w", err)
	}
	schema, err := documentSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("definition does not match schema: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding definition JSON: %w", err)
	}
	return FromDocument(doc)
}

// MarshalJSON writes the indented JSON document of d.
func (d *SimulationDefn) MarshalJSON() ([]byte, error) {
	return json.MarshalIndent(d.Document(), "", "  ")
}

// MarshalYAML returns the YAML document of d.
func (d *SimulationDefn) MarshalYAML() (any, error) {
	return d.Document(), nil
}

const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["objects"],
  "additionalProperties": false,
  "properties": {
    "objects": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^[^.\\s]+$"},
          "kind": {"type": "string", "minLength": 1},
          "params": {"type": "object"},
          "refs": {
            "type": "object",
            "additionalProperties": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("definition.schema.json", documentSchemaJSON)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compiling definition schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// === Kind registry ===

// DecodeFunc builds an ObjectDefn of one kind from document params and refs.
type DecodeFunc func(params map[string]any, refs map[string]string) (ObjectDefn, error)

var (
	kindsMu sync.RWMutex
	kinds   = map[string]DecodeFunc{}
)

// RegisterKind makes a kind decodable from documents. Object packages call it
// from init(); registering a kind twice panics.
func RegisterKind(kind string, decode DecodeFunc) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, dup := kinds[kind]; dup {
		panic(fmt.Sprintf("defn: kind %q registered twice", kind))
	}
	kinds[kind] = decode
}

func lookupKind(kind string) (DecodeFunc, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	d, ok := kinds[kind]
	return d, ok
}

// Kinds returns the registered kind names, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DecodeParams decodes a params tree into out, rejecting unknown keys.
func DecodeParams(params map[string]any, out any) error {
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}
