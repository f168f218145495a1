package schema

import "strings"

// rawField is a field as produced by the line parser, before the link pass
// resolves RefUnresolved/RefListUnresolved type names.
type rawField struct {
	name           string
	typeStr        string
	nullable       bool
	listElem       string // non-primitive type name (list element or single ref), without "?" or "[]"
	isList         bool
	primitive      PrimitiveType
	isPrimitive    bool
	attrIndex      bool
	derivedModel   string
	derivedField   string
	hasDerived     bool
}

// rawBlock holds a model or struct block's fields before offset assignment.
type rawBlock struct {
	name   string
	fields []rawField
}

// parseInput is the output of the line scanner: the raw model/struct blocks
// in source order, ready for offset assignment and then linking.
type parseInput struct {
	models  []rawBlock
	structs map[string]rawBlock
	enums   []*Enum
}

// parseSchemaText scans a schema source file into raw blocks. It does not
// resolve type names or assign offsets; see assignOffsets and linkTypes.
func parseSchemaText(input string) (*parseInput, error) {
	lines := strings.Split(input, "\n")
	pi := &parseInput{structs: make(map[string]rawBlock)}

	seenModels := make(map[string]bool)
	seenStructs := make(map[string]bool)

	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		lineNo := i + 1
		i++

		if !strings.HasPrefix(line, "model ") && !strings.HasPrefix(line, "struct ") && !strings.HasPrefix(line, "enum ") {
			continue
		}

		kind, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, &ParseError{Line: lineNo, Msg: "malformed block header"}
		}
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "{"))
		if name == "" {
			return nil, &ParseError{Line: lineNo, Msg: "block missing a name"}
		}

		switch kind {
		case "model":
			if seenModels[name] {
				return nil, &DuplicateNameError{Kind: "model", Name: name}
			}
			seenModels[name] = true
			fields, next, err := parseFieldLines(lines, i)
			if err != nil {
				return nil, err
			}
			i = next
			pi.models = append(pi.models, rawBlock{name: name, fields: fields})
		case "struct":
			if seenStructs[name] {
				return nil, &DuplicateNameError{Kind: "struct", Name: name}
			}
			seenStructs[name] = true
			fields, next, err := parseFieldLines(lines, i)
			if err != nil {
				return nil, err
			}
			i = next
			pi.structs[name] = rawBlock{name: name, fields: fields}
		case "enum":
			values, next, err := parseEnumLines(lines, i)
			if err != nil {
				return nil, err
			}
			i = next
			pi.enums = append(pi.enums, &Enum{Name: name, Values: values})
		}
	}

	return pi, nil
}

// parseFieldLines consumes lines starting at idx until a closing "}",
// returning the parsed fields and the index just past the closing line.
func parseFieldLines(lines []string, idx int) ([]rawField, int, error) {
	var fields []rawField
	for idx < len(lines) {
		line := strings.TrimSpace(lines[idx])
		lineNo := idx + 1
		idx++
		if line == "}" {
			return fields, idx, nil
		}
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		f, err := parseFieldLine(line, lineNo)
		if err != nil {
			return nil, idx, err
		}
		fields = append(fields, f)
	}
	return fields, idx, nil
}

func parseEnumLines(lines []string, idx int) ([]string, int, error) {
	var values []string
	for idx < len(lines) {
		line := strings.TrimSpace(lines[idx])
		idx++
		if line == "}" {
			return values, idx, nil
		}
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		values = append(values, strings.Trim(line, ", "))
	}
	return values, idx, nil
}

// parseFieldLine parses "name Type[][?]  @attr(...)" into a rawField. The
// name and type are the first two whitespace-separated tokens; everything
// from the first "@" onward (if any) is the attribute clause.
func parseFieldLine(line string, lineNo int) (rawField, error) {
	body, attrClause, hasAttr := strings.Cut(line, "@")
	parts := strings.Fields(body)
	if len(parts) < 2 {
		return rawField{}, &ParseError{Line: lineNo, Msg: "expected \"name Type\""}
	}
	name, typeTok := parts[0], parts[1]

	f := rawField{name: name, typeStr: typeTok}
	if strings.HasSuffix(typeTok, "?") {
		f.nullable = true
		typeTok = strings.TrimSuffix(typeTok, "?")
	}
	if elem, isList := strings.CutSuffix(typeTok, "[]"); isList {
		f.isList = true
		if prim, ok := primitiveFromName(elem); ok {
			f.isPrimitive = true
			f.primitive = prim
		} else {
			f.listElem = elem
		}
	} else if prim, ok := primitiveFromName(typeTok); ok {
		f.isPrimitive = true
		f.primitive = prim
	} else {
		f.listElem = typeTok
	}

	if hasAttr {
		for _, attr := range strings.Split(attrClause, "@") {
			attr = strings.TrimSpace(attr)
			if attr == "" {
				continue
			}
			if err := applyAttribute(&f, attr, lineNo); err != nil {
				return rawField{}, err
			}
		}
	}

	return f, nil
}

func applyAttribute(f *rawField, attr string, lineNo int) error {
	switch {
	case strings.HasPrefix(attr, "index"):
		f.attrIndex = true
	case strings.HasPrefix(attr, "derived("):
		inside, ok := strings.CutSuffix(strings.TrimPrefix(attr, "derived("), ")")
		if !ok {
			return &ParseError{Line: lineNo, Msg: "unterminated @derived(...)"}
		}
		model, field, ok := strings.Cut(inside, ".")
		if !ok {
			return &ParseError{Line: lineNo, Msg: "@derived(...) expects Model.field"}
		}
		f.hasDerived = true
		f.derivedModel = strings.TrimSpace(model)
		f.derivedField = strings.TrimSpace(field)
	}
	return nil
}

func primitiveFromName(s string) (PrimitiveType, bool) {
	switch s {
	case "String":
		return String, true
	case "Int":
		return Int64, true
	case "UInt":
		return UInt64, true
	case "Float":
		return Float, true
	case "Double":
		return Double, true
	case "Bool":
		return Bool, true
	case "DateTime":
		return DateTime, true
	default:
		return 0, false
	}
}

// isVirtual reports whether a raw field never owns a header offset slot: a
// list of models or structs is resolved into a join-tree/owned-rows lookup,
// never stored inline.
func (f rawField) isVirtual() bool {
	return f.isList && !f.isPrimitive
}
