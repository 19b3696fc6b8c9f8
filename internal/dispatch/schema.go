package dispatch

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/viewsync/internal/wire"
)

// SchemaError describes a schema that failed to compile or a command that
// failed to satisfy one.
type SchemaError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *SchemaError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// schemaCompiler compiles and checks argument schemas. A schema is a CUE
// expression constraining {args, kwargs}, for example:
//
//	args: [string, bool]
//	kwargs: {...}
//
// Numbers should be declared as number, not int: JSON decodes every number
// as a float.
type schemaCompiler struct {
	cue *cue.Context
}

func newSchemaCompiler() *schemaCompiler {
	return &schemaCompiler{cue: cuecontext.New()}
}

func (c *schemaCompiler) compile(method, src string) (cue.Value, error) {
	v := c.cue.CompileString(src, cue.Filename(method+".cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError("schema", err)
	}
	return v, nil
}

// check unifies cmd's arguments with schema and requires a concrete result.
func (c *schemaCompiler) check(schema cue.Value, cmd wire.Command) error {
	cmd = cmd.Normalize()
	doc := c.cue.Encode(map[string]any{
		"args":   cmd.Args,
		"kwargs": cmd.Kwargs,
	})
	if err := doc.Err(); err != nil {
		return formatCUEError("arguments", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError("arguments", err)
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(field string, err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &SchemaError{Field: field, Message: err.Error()}
	}

	firstErr := errs[0]
	se := &SchemaError{Field: field, Message: firstErr.Error()}
	if positions := errors.Positions(firstErr); len(positions) > 0 {
		se.Pos = positions[0]
	}
	return se
}
