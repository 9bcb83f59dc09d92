package patient

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE []byte

// ValidationError reports an event file that does not match the schema.
type ValidationError struct {
	// Path is the location inside the document, e.g. "2.fields.birth_date".
	Path    string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid event file at %s: %s", e.Path, e.Message)
	}
	return "invalid event file: " + e.Message
}

// LoadFile reads messages from a YAML or JSON event file.
func LoadFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	msgs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return msgs, nil
}

// Decode reads a YAML (or JSON) sequence of messages, validates it against the
// schema and assigns Seq in document order where it is missing.
//
// The document is either a bare sequence or a mapping with a "messages" key.
func Decode(r io.Reader) ([]Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse event file: %w", err)
	}
	return DecodeDocument(doc)
}

// DecodeDocument is Decode for a document that has already been parsed into
// generic YAML values, such as the messages embedded in a scenario file.
func DecodeDocument(doc any) ([]Message, error) {
	if m, ok := doc.(map[string]any); ok {
		if inner, ok := m["messages"]; ok {
			doc = inner
		}
	}
	if doc == nil {
		return []Message{}, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert event file: %w", err)
	}

	if err := validate(raw); err != nil {
		return nil, err
	}

	var msgs []Message
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	seen := make(map[int64]int, len(msgs))
	for i := range msgs {
		if msgs[i].Seq == 0 {
			msgs[i].Seq = int64(i + 1)
		}
		if prev, dup := seen[msgs[i].Seq]; dup {
			return nil, &ValidationError{
				Path:    fmt.Sprintf("%d.seq", i),
				Message: fmt.Sprintf("seq %d already used by message %d", msgs[i].Seq, prev),
			}
		}
		seen[msgs[i].Seq] = i
		msgs[i].EventTime = storedInstant(msgs[i].EventTime)
		if msgs[i].Fields != nil {
			f := msgs[i].Fields.Normalized()
			msgs[i].Fields = &f
		}
		if msgs[i].Visit != nil {
			v := msgs[i].Visit.Normalized()
			msgs[i].Visit = &v
		}
	}
	return msgs, nil
}

// validate unifies the JSON document with #Messages and requires a concrete
// result.
func validate(raw []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile message schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Messages"))

	doc := ctx.CompileBytes(raw, cue.Filename("events.json"))
	if err := doc.Err(); err != nil {
		return formatCUEError(err)
	}

	v := def.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError keeps the first CUE error with its path.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	first := errs[0]
	format, args := first.Msg()
	ve := &ValidationError{
		Path:    strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ve.Pos = positions[0]
	}
	return ve
}
