package config

import (
	"fmt"
	"os"
)

// Template is the commented starter config written by "config init".
func Template() string {
	return clientTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template()), 0o600)
}

const clientTemplate = `# agent socket; defaults to $SSH_AUTH_SOCK when unset
# socket = "/run/user/1000/ssh-agent.sock"

control_capacity = 10
response_capacity = 10
max_payload_bytes = 262144

# stop after this many consecutive non-response packets; 0 never stops
max_protocol_anomalies = 0

request_timeout = "5s"

[bridge]
addr = "127.0.0.1:9107"
cors_origins = ["http://localhost:3000"]
# require "Authorization: Bearer <token>" on /identities, /lock and /unlock
# token = ""
`
