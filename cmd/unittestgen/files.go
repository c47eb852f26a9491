package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/unittestgen/pkg/testio"
)

type FilesSettings struct {
	Directory  string `glazed.parameter:"directory"`
	Pattern    string `glazed.parameter:"pattern"`
	ToolOutput bool   `glazed.parameter:"tool-output"`
}

// FilesCommand lists the code files of a directory as rows.
type FilesCommand struct {
	*cmds.CommandDescription
}

func NewFilesCommand() (*FilesCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}

	return &FilesCommand{
		CommandDescription: cmds.NewCommandDescription(
			"files",
			cmds.WithShort("List the C# files of a directory, as the advisor's tool sees them"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"pattern",
					parameters.ParameterTypeString,
					parameters.WithHelp("Glob pattern of the files to list"),
					parameters.WithDefault(testio.DefaultPattern),
				),
				parameters.NewParameterDefinition(
					"tool-output",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Print the JSON string returned to the model instead of rows"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"directory",
					parameters.ParameterTypeString,
					parameters.WithHelp("Directory to list"),
					parameters.WithRequired(true),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *FilesCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &FilesSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "error initializing settings")
	}

	if s.ToolOutput && s.Pattern == testio.DefaultPattern {
		_, err := fmt.Fprintln(os.Stdout, testio.GetAllCsharpFiles(s.Directory))
		return err
	}

	files, err := testio.ListFiles(s.Directory, s.Pattern)
	if err != nil {
		return err
	}
	for _, f := range files {
		row := types.NewRow(
			types.MRP("name", f.Name),
			types.MRP("path", f.Path),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = (*FilesCommand)(nil)

func newFilesCommand() *cobra.Command {
	filesCmd, err := NewFilesCommand()
	cobra.CheckErr(err)
	cobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(filesCmd)
	cobra.CheckErr(err)
	return cobraCmd
}
