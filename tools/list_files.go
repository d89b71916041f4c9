package tools

import (
	"context"
	"encoding/json"
	"os"
	"sort"
)

type ListFilesInput struct {
	Path string `json:"path,omitempty" jsonschema_description:"Optional relative path to list (defaults to the working directory)."`
}

var ListFilesDefinition = Definition{
	Name:        "list_files",
	Description: "List the entries of a directory addressed by a relative path within the working directory. Non-recursive; directories carry a trailing slash.",
	InputSchema: ListFilesInputSchema,
	Handler:     ListFiles,
}

var ListFilesInputSchema = GenerateSchema[ListFilesInput]()

func ListFiles(ctx context.Context, input json.RawMessage) (any, error) {
	var in ListFilesInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
	}
	if in.Path == "" {
		in.Path = "."
	}

	path, err := resolvePath(in.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
