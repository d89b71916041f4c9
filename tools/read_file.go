package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ReadFileInput struct {
	Path   string `json:"path" jsonschema_description:"Relative file path within the working directory."`
	Offset int    `json:"offset,omitempty" jsonschema_description:"Line offset (0-based) to start reading from."`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Maximum lines to return from offset (default 200)."`
}

const defaultReadFileLimit = 200
const truncationSentinel = "-- truncated; use offset/limit to fetch more --\n"
const maxLineRunes = 2000 // per-line clamp

var ReadFileDefinition = Definition{
	Name:        "read_file",
	Description: "Read the contents of a file addressed by a relative path within the working directory. Paths outside the working directory are rejected.",
	InputSchema: ReadFileInputSchema,
	Handler:     ReadFile,
}

var ReadFileInputSchema = GenerateSchema[ReadFileInput]()

// ReadFile returns a bounded window of a file's lines. A trailing sentinel
// signals that offset/limit pagination is needed to see the rest.
func ReadFile(ctx context.Context, input json.RawMessage) (any, error) {
	var in ReadFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}

	path, err := resolvePath(in.Path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultReadFileLimit
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}

	lines := strings.Split(string(b), "\n")
	if offset > len(lines) {
		offset = len(lines)
	}
	end := offset + limit
	if end > len(lines) {
		end = len(lines)
	}

	truncated := end < len(lines)
	window := lines[offset:end]
	for i, line := range window {
		if r := []rune(line); len(r) > maxLineRunes {
			window[i] = string(r[:maxLineRunes])
			truncated = true
		}
	}

	out := strings.Join(window, "\n")
	if truncated {
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += truncationSentinel
	}
	return out, nil
}

// resolvePath confines a relative path to the working directory.
func resolvePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed")
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the working directory")
	}
	return clean, nil
}
