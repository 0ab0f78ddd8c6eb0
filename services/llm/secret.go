package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// LoadSecret resolves a credential from the environment or a mounted
// secrets file and seals it in an encrypted memguard enclave.
//
// The environment variable wins when set. Otherwise the secret file
// (e.g. a Podman/Docker secret mount) is read. The plaintext is held
// in locked memory only while the enclave is open.
func LoadSecret(envVar, secretPath string) (*memguard.Enclave, error) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return memguard.NewEnclave([]byte(v)), nil
	}

	raw, err := os.ReadFile(secretPath)
	if err != nil {
		slog.Error("Credential not in environment and secret file unavailable",
			"env_var", envVar, "path", secretPath)
		return nil, fmt.Errorf("%s environment variable not set", envVar)
	}
	slog.Info("Read credential from mounted secret", "path", secretPath)
	return memguard.NewEnclave([]byte(strings.TrimSpace(string(raw)))), nil
}

// openSecret opens the enclave and returns an independent copy of the
// secret. The locked buffer is destroyed before returning.
func openSecret(enclave *memguard.Enclave) (string, error) {
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret enclave: %w", err)
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}

// PurgeSecrets wipes all memguard-held credential material.
// Call during graceful shutdown.
func PurgeSecrets() {
	memguard.Purge()
}
