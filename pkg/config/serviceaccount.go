package config

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// ServiceAccount is the identity-provider service account used to verify
// caller ID tokens. Only the fields the verifier needs are decoded.
type ServiceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// loadServiceAccount reads the service account from FIREBASE_SERVICE_ACCOUNT
// (raw JSON) or FIREBASE_SERVICE_ACCOUNT_B64 (base64, optionally gzip-compressed
// before encoding). Returns nil when neither variable is set.
func loadServiceAccount() (*ServiceAccount, error) {
	if raw := os.Getenv("FIREBASE_SERVICE_ACCOUNT"); raw != "" {
		return parseServiceAccount([]byte(raw))
	}
	if encoded := os.Getenv("FIREBASE_SERVICE_ACCOUNT_B64"); encoded != "" {
		decoded, err := decodeServiceAccountB64(encoded)
		if err != nil {
			return nil, err
		}
		return parseServiceAccount(decoded)
	}
	return nil, nil
}

// decodeServiceAccountB64 base64-decodes the value and transparently
// decompresses it when the payload is gzip
func decodeServiceAccountB64(encoded string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	// gzip magic bytes
	if len(decoded) >= 2 && decoded[0] == 0x1f && decoded[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(decoded))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip payload: %w", err)
		}
		defer zr.Close()

		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress service account: %w", err)
		}
		return decompressed, nil
	}

	return decoded, nil
}

func parseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("invalid service account JSON: %w", err)
	}
	if sa.ProjectID == "" {
		return nil, fmt.Errorf("service account missing project_id")
	}
	return &sa, nil
}
