// Package seed loads catalogue fixtures and writes them to a remote
// collection. Fixtures are YAML or CUE files checked against an embedded
// CUE schema before anything is written.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/gamecat/internal/game"
	"github.com/roach88/gamecat/internal/remote"
)

//go:embed schema.cue
var schemaSource string

// Fixture is a set of games to create in one collection.
type Fixture struct {
	// Collection overrides the configured collection when set.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`
	Games      []Game `yaml:"games" json:"games"`
}

// Game is one fixture entry. Read nil with Status set produces a document
// in the legacy string encoding.
type Game struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	ImageURL    string `yaml:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	Developer   string `yaml:"developer,omitempty" json:"developer,omitempty"`
	Editor      string `yaml:"editor,omitempty" json:"editor,omitempty"`
	Read        *bool  `yaml:"read,omitempty" json:"read,omitempty"`
	Status      string `yaml:"status,omitempty" json:"status,omitempty"`
}

// Fields returns the document body to create.
func (g Game) Fields() map[string]any {
	rec := game.Record{
		Title:       g.Title,
		Description: g.Description,
		ImageURL:    g.ImageURL,
		Developer:   g.Developer,
		Editor:      g.Editor,
	}
	if g.Read != nil {
		rec.Read = *g.Read
	}
	fields := rec.Fields()

	if g.Status != "" {
		fields[game.FieldLegacyStatus] = g.Status
		if g.Read == nil {
			delete(fields, game.FieldRead)
		}
	}
	return fields
}

// ValidationError reports a fixture that does not satisfy the schema.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid fixture %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("invalid fixture: %s", e.Message)
}

// IsValidationError returns true if err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Load reads a .yaml, .yml or .cue fixture and validates it.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var f *Fixture
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		f, err = parseYAML(data)
	case ".cue":
		f, err = parseCUE(data, path)
	default:
		return nil, fmt.Errorf("unsupported fixture extension %q (want .yaml, .yml or .cue)", ext)
	}
	if err == nil {
		err = Validate(f)
	}
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Path = path
		}
		return nil, err
	}
	return f, nil
}

// parseYAML decodes strictly: unknown keys are typos, not extensions.
func parseYAML(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &f, nil
}

func parseCUE(data []byte, filename string) (*Fixture, error) {
	ctx := cuecontext.New()
	def, err := fixtureSchema(ctx)
	if err != nil {
		return nil, err
	}

	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", err)
	}
	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	var f Fixture
	if err := unified.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode CUE: %w", err)
	}
	return &f, nil
}

// Validate checks f against the embedded schema.
func Validate(f *Fixture) error {
	if f == nil || len(f.Games) == 0 {
		return &ValidationError{Message: "games list is required and must be non-empty"}
	}

	ctx := cuecontext.New()
	def, err := fixtureSchema(ctx)
	if err != nil {
		return err
	}
	val := ctx.Encode(f)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

func fixtureSchema(ctx *cue.Context) (cue.Value, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile fixture schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Fixture"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("lookup #Fixture: %w", err)
	}
	return def, nil
}

// Apply creates one document per game, in fixture order, and returns the
// assigned ids. collection is used when the fixture names none. On error
// the ids created so far are returned with it.
func Apply(ctx context.Context, c remote.Collection, collection string, f *Fixture) ([]string, error) {
	if f.Collection != "" {
		collection = f.Collection
	}
	ids := make([]string, 0, len(f.Games))
	for i, g := range f.Games {
		id, err := c.Create(ctx, collection, g.Fields())
		if err != nil {
			return ids, fmt.Errorf("games[%d] %q: %w", i, g.Title, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
