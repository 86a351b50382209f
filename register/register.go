package register

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Scopes accepted by ConfigPath.
const (
	ScopeProject = "project"
	ScopeUser    = "user"
)

// Entry is an MCP client configuration entry for a server reached over
// streamable HTTP.
type Entry struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ControlURL turns the control server listen address into the URL clients
// connect to. Wildcard and empty hosts become the loopback address.
func ControlURL(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("control.addr is not set, there is no control server to register")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("parsing control address %q: %w", addr, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/", nil
}

// ConfigPath returns the client configuration file for scope: .mcp.json in
// directory for project scope, ~/.claude.json for user scope.
func ConfigPath(scope string, directory string) (string, error) {
	switch scope {
	case ScopeProject:
		absDir, err := filepath.Abs(directory)
		if err != nil {
			return "", fmt.Errorf("resolving directory %s: %w", directory, err)
		}
		return filepath.Join(absDir, ".mcp.json"), nil
	case ScopeUser:
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(homeDir, ".claude.json"), nil
	default:
		return "", fmt.Errorf("unknown scope %q (must be %q or %q)", scope, ScopeProject, ScopeUser)
	}
}

// Write adds or replaces the server entry under mcpServers in configPath,
// keeping every other key of the file.
func Write(configPath string, serverName string, entry Entry) error {
	// Read existing config or start fresh
	config := map[string]interface{}{
		"mcpServers": map[string]interface{}{},
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("parsing existing config %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading config %s: %w", configPath, err)
	}

	servers, ok := config["mcpServers"]
	if !ok {
		servers = map[string]interface{}{}
		config["mcpServers"] = servers
	}
	serversMap, ok := servers.(map[string]interface{})
	if !ok {
		return fmt.Errorf("mcpServers in %s is not an object", configPath)
	}
	serversMap[serverName] = entry

	output, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	output = append(output, '\n')

	// Atomic write: write to temp file in same directory, then rename
	configDir := filepath.Dir(configPath)
	tmpFile, err := os.CreateTemp(configDir, ".mcp-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", configDir, err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(output); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, configPath, err)
	}
	return nil
}
