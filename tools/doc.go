// Package tools serves a small set of built-in tools through the same
// provider contract as external MCP servers, so a run can be tool-capable
// with zero external processes.
//
// Includes:
//   - Definition: name, description, JSON input schema, handler.
//   - GenerateSchema[T](): derive a JSON Schema object from a Go struct.
//   - Built-ins: current_time, read_file (bounded), list_files (non-recursive).
package tools
