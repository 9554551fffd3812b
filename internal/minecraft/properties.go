package minecraft

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
)

// defaultServerPort is used when server.properties is missing or has no
// server-port entry.
const defaultServerPort = 25565

// ServerProperties represents the Minecraft server.properties file
type ServerProperties map[string]string

// LoadServerProperties loads the server.properties file from a server's data directory
func LoadServerProperties(serverDataPath string) (ServerProperties, error) {
	propertiesPath := filepath.Join(serverDataPath, "server.properties")
	
	file, err := os.Open(propertiesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open server.properties: %w", err)
	}
	defer file.Close()

	properties := make(ServerProperties)
	scanner := bufio.NewScanner(file)
	
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		
		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		
		// Parse key=value pairs
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			properties[key] = value
		}
	}
	
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading server.properties: %w", err)
	}
	
	return properties, nil
}

// GetString returns key's raw value, or defaultValue if server.properties
// had no such entry.
func (p ServerProperties) GetString(key string, defaultValue string) string {
	if value, exists := p[key]; exists {
		return value
	}
	return defaultValue
}

// Port returns the validated server-port value (defaulting to 25565), the
// port the lifecycle manager asks the UPnP lease manager to map.
// nat.ParsePort rejects out-of-range or non-numeric values the same way the
// Docker port-binding layer does, so a malformed server.properties entry is
// caught before it reaches the gateway's AddPortMapping call.
func (p ServerProperties) Port() int {
	raw := p.GetString("server-port", strconv.Itoa(defaultServerPort))
	port, err := nat.ParsePort(raw)
	if err != nil {
		return defaultServerPort
	}
	return port
}

