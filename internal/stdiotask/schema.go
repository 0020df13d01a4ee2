package stdiotask

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

const schemaResourceName = "memex-stdio-task.json"

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschemav5.Schema
	compileErr     error
)

// taskSchema builds the Task JSON Schema once (via reflection over
// models.Task) and compiles it into a validator.
func taskSchema() (*jsonschemav5.Schema, error) {
	compiledOnce.Do(func() {
		reflector := &jsonschema.Reflector{
			ExpandedStruct: true,
			DoNotReference: true,
		}
		raw := reflector.Reflect(&models.Task{})
		buf, err := json.Marshal(raw)
		if err != nil {
			compileErr = fmt.Errorf("marshal generated schema: %w", err)
			return
		}

		compiler := jsonschemav5.NewCompiler()
		if err := compiler.AddResource(schemaResourceName, bytes.NewReader(buf)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaResourceName)
	})
	return compiledSchema, compileErr
}

// ValidateTask runs a decoded task through the generated schema, surfacing
// a validation-level FormatError on mismatch. This is a belt-and-suspenders
// check behind the header-level validation buildTask already performs —
// it catches shape drift if models.Task ever grows a field the header
// parser forgets to populate.
func ValidateTask(task models.Task) error {
	schema, err := taskSchema()
	if err != nil {
		return fmt.Errorf("compile task schema: %w", err)
	}

	buf, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		return fmt.Errorf("decode task for validation: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return validationErr(0, "task %s failed schema validation: %v", task.ID, err)
	}
	return nil
}
