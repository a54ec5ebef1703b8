package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// validator checks record data against the collection JSON schemas before
// an embedded gateway persists it.
type validator struct {
	schemas map[string]*jsonschema.Schema
	printer *message.Printer
}

func newValidator(schema Schema) (*validator, error) {
	v := &validator{
		schemas: map[string]*jsonschema.Schema{},
		printer: message.NewPrinter(language.English),
	}
	compiler := jsonschema.NewCompiler()
	for name, col := range schema.Collections {
		if len(col.Document) == 0 {
			continue
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(col.Document))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", name, err)
		}
		location := name + ".json"
		if err := compiler.AddResource(location, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		compiled, err := compiler.Compile(location)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// validate checks one full record body. Collections without a schema pass.
func (v *validator) validate(collection string, data map[string]any) error {
	if v == nil {
		return nil
	}
	sch, ok := v.schemas[collection]
	if !ok {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode %s record: %v", ErrInvalidInput, collection, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: decode %s record: %v", ErrInvalidInput, collection, err)
	}
	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &ValidationError{Collection: collection, Message: err.Error()}
	}
	fields := map[string]string{}
	v.collect(verr, fields)
	return &ValidationError{Collection: collection, Message: "record failed validation", Fields: fields}
}

func (v *validator) collect(verr *jsonschema.ValidationError, fields map[string]string) {
	if len(verr.Causes) == 0 {
		field := "record"
		if len(verr.InstanceLocation) > 0 {
			field = strings.Join(verr.InstanceLocation, ".")
		}
		msg := verr.ErrorKind.LocalizedString(v.printer)
		if prev, ok := fields[field]; ok {
			msg = prev + "; " + msg
		}
		fields[field] = msg
		return
	}
	for _, cause := range verr.Causes {
		v.collect(cause, fields)
	}
}
