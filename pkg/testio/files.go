package testio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/unittestgen/pkg/steps/parse"
)

const (
	Success = "Success"

	DefaultPattern = "*.cs"
)

// CodeFile is one entry of the GetAllCsharpFiles listing.
type CodeFile struct {
	Path string `json:"Path"`
	Name string `json:"Name"`
}

func errorString(err error) string {
	return "Error: " + err.Error()
}

// SaveCodeFile writes code to path/fileName after removing markdown fences
// and leading newlines. Parent directories are not created.
func SaveCodeFile(code string, path string, fileName string) string {
	target := filepath.Join(path, fileName)
	if err := os.WriteFile(target, []byte(parse.StripCodeFences(code)), 0o644); err != nil {
		log.Warn().Err(err).Str("path", target).Msg("could not save code file")
		return errorString(err)
	}
	log.Debug().Str("path", target).Msg("saved code file")
	return Success
}

// ReadCodeFile returns the content of path/fileName.
func ReadCodeFile(path string, fileName string) string {
	b, err := os.ReadFile(filepath.Join(path, fileName))
	if err != nil {
		return errorString(err)
	}
	return string(b)
}

// ListFiles returns the regular files directly inside directoryPath whose
// name matches pattern, sorted by name.
func ListFiles(directoryPath string, pattern string) ([]CodeFile, error) {
	entries, err := os.ReadDir(directoryPath)
	if err != nil {
		return nil, err
	}

	files := []CodeFile{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := glob.Match(pattern, e.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
		}
		if !ok {
			continue
		}
		files = append(files, CodeFile{
			Path: filepath.Join(directoryPath, e.Name()),
			Name: e.Name(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// GetAllCsharpFiles lists the *.cs files directly inside directoryPath as an
// indented JSON array of {Path, Name}.
func GetAllCsharpFiles(directoryPath string) string {
	files, err := ListFiles(directoryPath, DefaultPattern)
	if err != nil {
		return errorString(err)
	}
	b, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return errorString(err)
	}
	return string(b)
}
