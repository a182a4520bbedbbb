package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindProtocols = "protocols"
	KindNet       = "net"
	KindProtogen  = "protogen"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindProtocols:
		return protocolsTemplate, nil
	case KindNet:
		return netTemplate, nil
	case KindProtogen:
		return protogenTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const protocolsTemplate = `[[modules]]
id = 1
name = "chat"

[[protocols]]
name = "Ping"
module = "chat"
id = 42

[[protocols.fields]]
name = "id"
type = "short"

[[protocols.fields]]
name = "name"
type = "string"

[[protocols]]
name = "Roster"
module = "chat"

[[protocols.fields]]
name = "members"
type = "list<Ping>"

[[protocols.fields]]
name = "scores"
type = "map<string,int>"
`

const netTemplate = `node = "protoreg"
protocols = ["protocols.toml"]

[admin]
addr = ":9400"
cors_origins = ["http://localhost:3000"]

[registry]
kind = "memory"
address = "localhost:6379"
db = 0
prefix = "protoreg"
ttl = "30s"

[[providers]]
provider = "chat-server"
module = "chat"
address = "localhost:7000"

[[consumers]]
consumer = "chat-gateway"
module = "chat"
`

const protogenTemplate = `protocols = ["protocols.toml"]
languages = ["gdscript", "go", "typescript"]
output = "generated"
fold = true
go_package = "protocol"
go_buffer_import = "github.com/danmuck/protoreg/pkg/buffer"
`
