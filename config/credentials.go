package config

// Credential storage for the backend API key.
//
// The key is stored in the XDG data directory:
//
//	$XDG_DATA_HOME/ail/auth.json  (default: ~/.local/share/ail/auth.json)
//
// File permissions are 0600 (owner read/write only).
//
// Lookup order for the API key:
//  1. --api-key flag (highest priority)
//  2. AIL_API_KEY environment variable
//  3. OPENAI_API_KEY environment variable
//  4. This credential store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dataDirName  = "ail"
	authFileName = "auth.json"
)

// authInfo is the stored credential entry.
type authInfo struct {
	Type string `json:"type"` // always "api"
	Key  string `json:"key"`
}

// authFilePath returns the credential store location.
func authFilePath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, dataDirName, authFileName), nil
}

// SaveAPIKey stores the API key in the credential store.
func SaveAPIKey(key string) error {
	path, err := authFilePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(authInfo{Type: "api", Key: key}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// LoadAPIKey reads the API key from the credential store. Returns an empty
// string when no credentials are stored.
func LoadAPIKey() (string, error) {
	path, err := authFilePath()
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	var info authInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	return info.Key, nil
}

// DeleteAPIKey removes stored credentials. Deleting a non-existent store
// is not an error.
func DeleteAPIKey() error {
	path, err := authFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// ResolveAPIKey returns the first available API key in lookup order.
func ResolveAPIKey(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if key := os.Getenv("AIL_API_KEY"); key != "" {
		return key, nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key, nil
	}
	return LoadAPIKey()
}
