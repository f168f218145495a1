package schema

import "fmt"

// ParseError reports a malformed line in a schema source file.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema: parse error on line %d: %s", e.Line, e.Msg)
}

// UnknownTypeError is returned by the link pass when a field's type name
// does not match any primitive, model, or struct known to the schema.
type UnknownTypeError struct {
	Model string
	Field string
	Type  string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("schema: %s.%s: unknown type %q", e.Model, e.Field, e.Type)
}

// UnknownDerivedTargetError is returned by the bind pass when @derived(...)
// names a model or field that does not exist.
type UnknownDerivedTargetError struct {
	Model string
	Field string
	Ref   string
}

func (e *UnknownDerivedTargetError) Error() string {
	return fmt.Sprintf("schema: %s.%s: @derived target %q does not exist", e.Model, e.Field, e.Ref)
}

// DuplicateNameError is returned by the parse pass when two models (or two
// structs in the same scope) share a name.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("schema: duplicate %s name %q", e.Kind, e.Name)
}

// IncompatibleDerivedError is returned by the bind pass when @derived links
// two fields whose shapes cannot form a Direct/Rev pair (e.g. two scalar
// refs, or a primitive on one end).
type IncompatibleDerivedError struct {
	Model string
	Field string
	Msg   string
}

func (e *IncompatibleDerivedError) Error() string {
	return fmt.Sprintf("schema: %s.%s: %s", e.Model, e.Field, e.Msg)
}
