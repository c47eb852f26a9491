package testio

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/unittestgen/pkg/inference/tools"
)

type SaveCodeFileInput struct {
	Code     string `json:"code" jsonschema:"required,description=Code text to save"`
	Path     string `json:"path" jsonschema:"required,description=Directory path to output file"`
	FileName string `json:"fileName" jsonschema:"required,description=code file name. Must be .cs extension"`
}

type ReadCodeFileInput struct {
	Path     string `json:"path" jsonschema:"required,description=Directory path to code file"`
	FileName string `json:"fileName" jsonschema:"required,description=code file name. Must be .cs extension"`
}

type GetAllCsharpFilesInput struct {
	DirectoryPath string `json:"directoryPath" jsonschema:"required,description=Directory containing c# files"`
}

// Tools returns the file tool definitions offered to the model.
func Tools() ([]*tools.ToolDefinition, error) {
	save, err := tools.NewToolFromFunc(
		tools.ToolName("SaveCodeFile"),
		"Save user-approved code file (.cs) to a native file path. Returns Success or an error message string",
		func(in SaveCodeFileInput) string {
			return SaveCodeFile(in.Code, in.Path, in.FileName)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "save_code_file")
	}
	read, err := tools.NewToolFromFunc(
		tools.ToolName("ReadCodeFile"),
		"Read a c# code file (.cs) from a native file path. Returns the content of the requested c# file",
		func(in ReadCodeFileInput) string {
			return ReadCodeFile(in.Path, in.FileName)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "read_code_file")
	}
	list, err := tools.NewToolFromFunc(
		tools.ToolName("GetAllCsharpFiles"),
		"Retrieve a list of c# files available in a specified directory. Returns a collection of objects representing c# file paths and c# file names",
		func(in GetAllCsharpFilesInput) string {
			return GetAllCsharpFiles(in.DirectoryPath)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "get_all_csharp_files")
	}
	for _, t := range []*tools.ToolDefinition{save, read, list} {
		t.Tags = []string{"file"}
	}
	return []*tools.ToolDefinition{save, read, list}, nil
}

// Register adds the file tools to reg.
func Register(reg *tools.InMemoryToolRegistry) error {
	defs, err := Tools()
	if err != nil {
		return err
	}
	return reg.Register(defs...)
}
