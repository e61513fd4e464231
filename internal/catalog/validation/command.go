package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Shell metacharacters that are never legitimate in a declared run command
// or a secret value. Rejected before any process spawns, never sanitized.
var forbiddenMeta = []string{";", "`", "$(", "|", "&", ">", "<", "\n", "\r"}

var envNamePattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// ValidateRunCommand rejects a run command that carries shell metacharacters
// or does not reference the candidate's declared package identifier. A
// candidate is never validated with a command that could run something
// other than its own package.
func ValidateRunCommand(command, packageName string) error {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return fmt.Errorf("run command is empty")
	}
	for _, meta := range forbiddenMeta {
		if strings.Contains(cmd, meta) {
			return fmt.Errorf("run command contains forbidden shell metacharacter %q", meta)
		}
	}
	if packageName == "" {
		return fmt.Errorf("candidate declares no package identifier")
	}
	if !strings.Contains(cmd, packageName) {
		return fmt.Errorf("run command does not reference declared package %q", packageName)
	}
	return nil
}

// ValidateSecrets rejects secret maps whose names are not environment
// variable shaped or whose values carry shell metacharacters.
func ValidateSecrets(secrets map[string]string) error {
	for name, value := range secrets {
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("secret name %q is not a valid environment variable name", name)
		}
		for _, meta := range forbiddenMeta {
			if strings.Contains(value, meta) {
				// Never echo the value back.
				return fmt.Errorf("secret %q contains a forbidden shell metacharacter", name)
			}
		}
	}
	return nil
}
