package devserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"
)

// maxReadSize bounds what read_file returns.
const maxReadSize = 64 << 10

// WithHidden hides paths under the root that match any of the glob
// patterns from read_file. Patterns are relative to the root.
func WithHidden(patterns ...string) Option {
	return func(s *Server) { s.hidden = append(s.hidden, patterns...) }
}

func (s *Server) readFileTool() mcpsrv.ServerTool {
	return mcpsrv.ServerTool{
		Tool: mcplib.NewTool("read_file",
			mcplib.WithDescription("Reads a text file below the server's root directory."),
			mcplib.WithString("path", mcplib.Description("Path relative to the root directory."), mcplib.Required()),
		),
		Handler: s.handleReadFile,
	}
}

func (s *Server) handleReadFile(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	path, ok := stringArg(req, "path")
	if !ok || path == "" {
		return mcplib.NewToolResultError("read_file: path is required"), nil
	}
	rel, err := s.resolve(path)
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("read_file: %v", err)), nil
	}

	f, err := os.Open(filepath.Join(s.root, rel))
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("read_file: failed to read '%s'", path)), nil
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadSize+1))
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("read_file: failed to read '%s'", path)), nil
	}
	content := string(data[:min(len(data), maxReadSize)])
	if len(data) > maxReadSize {
		content += "\n[truncated]"
	}
	return mcplib.NewToolResultText(content), nil
}

// resolve returns path relative to the root, rejecting paths that leave it
// or are hidden.
func (s *Server) resolve(path string) (string, error) {
	rel := filepath.ToSlash(filepath.Clean(path))
	if filepath.IsAbs(path) || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("access denied: path '%s' is outside the root", path)
	}
	hidden, err := isPathRestricted(rel, s.hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", fmt.Errorf("access denied: path '%s' is hidden", path)
	}
	return rel, nil
}

func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
