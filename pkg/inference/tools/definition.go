package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// ToolDefinition represents a tool that can be called by AI models
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	Function    ToolFunc           `json:"-"`
	Tags        []string           `json:"tags,omitempty"`
}

// ToolFunc wraps the actual function with a pre-compiled executor.
type ToolFunc struct {
	Fn         interface{}
	executor   func(context.Context, []byte) (interface{}, error)
	inputType  reflect.Type
	outputType reflect.Type
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ToolName converts a Go identifier such as SaveCodeFile into the snake_case
// name exposed to the model (save_code_file).
func ToolName(goName string) string {
	return strcase.ToSnake(goName)
}

// NewToolFromFunc creates a ToolDefinition from a Go function. Supported
// signatures are func(Input) Result, func(context.Context, Input) Result, and
// the same with a trailing error return. Input must be a struct, its JSON
// schema is derived by reflection.
func NewToolFromFunc(name, description string, fn interface{}) (*ToolDefinition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}

	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be an error")
	}

	var inType reflect.Type
	switch funcType.NumIn() {
	case 0:
	case 1:
		if funcType.In(0) != contextType {
			inType = funcType.In(0)
		}
	case 2:
		if funcType.In(0) != contextType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		inType = funcType.In(1)
	default:
		return nil, errors.New("function must take (Input) or (context.Context, Input)")
	}

	schema := generateSchema(inType)

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Function: ToolFunc{
			Fn:         fn,
			executor:   createExecutor(fn, funcType, inType),
			inputType:  inType,
			outputType: funcType.Out(0),
		},
	}, nil
}

// Execute calls the tool function with JSON arguments.
func (tf *ToolFunc) Execute(ctx context.Context, args []byte) (interface{}, error) {
	if tf.executor == nil {
		return nil, errors.New("tool function not properly initialized")
	}
	return tf.executor(ctx, args)
}

// ValidateArguments checks raw JSON arguments against the parameter schema.
func (td *ToolDefinition) ValidateArguments(args []byte) error {
	if td.Parameters == nil {
		return nil
	}
	if len(strings.TrimSpace(string(args))) == 0 {
		args = []byte("{}")
	}
	schemaBytes, err := json.Marshal(td.Parameters)
	if err != nil {
		return errors.Wrap(err, "could not marshal parameter schema")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		return &ToolError{ToolName: td.Name, Type: "validation", Message: err.Error()}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ToolError{ToolName: td.Name, Type: "validation", Message: strings.Join(msgs, "; ")}
	}
	return nil
}

// ToolCall represents a request to execute a tool
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Result   interface{}   `json:"result"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Retries  int           `json:"retries,omitempty"`
}

// String renders the result the way it is fed back to the model.
func (r *ToolResult) String() string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	switch v := r.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// ToolError represents an error that occurred during tool execution
type ToolError struct {
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id,omitempty"`
	Type     string `json:"type"` // "validation", "execution", "timeout", "not_found"
	Message  string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error [%s] %s: %s", e.Type, e.ToolName, e.Message)
}

func generateSchema(inputType reflect.Type) *jsonschema.Schema {
	if inputType == nil {
		return &jsonschema.Schema{Type: "object"}
	}

	reflector := jsonschema.Reflector{
		// OpenAI rejects $refs in function parameters
		DoNotReference: true,
	}
	schema := reflector.Reflect(reflect.New(inputType).Elem().Interface())
	// the model API expects a plain object schema
	schema.Version = ""
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}

	return schema
}

func createExecutor(fn interface{}, funcType reflect.Type, inType reflect.Type) func(context.Context, []byte) (interface{}, error) {
	funcValue := reflect.ValueOf(fn)
	takesContext := funcType.NumIn() > 0 && funcType.In(0) == contextType

	return func(ctx context.Context, args []byte) (interface{}, error) {
		var in []reflect.Value
		if takesContext {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inType != nil {
			input := reflect.New(inType)
			if len(args) > 0 {
				if err := json.Unmarshal(args, input.Interface()); err != nil {
					return nil, errors.Wrap(err, "failed to unmarshal arguments")
				}
			}
			in = append(in, input.Elem())
		}

		return extractResults(funcValue.Call(in))
	}
}

func extractResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		result := results[0].Interface()
		if results[1].IsNil() {
			return result, nil
		}
		err, ok := results[1].Interface().(error)
		if !ok {
			return result, errors.Errorf("unexpected error type: %T", results[1].Interface())
		}
		return result, err
	}
	return nil, errors.Errorf("unexpected number of return values: %d", len(results))
}
