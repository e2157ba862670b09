//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

// Without a platform keychain, secrets live in a 0600 YAML file keyed by
// service then account.
func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "secrets.yaml")
}

func keychainExec(service, account string) ([]byte, error) {
	f, err := readYAMLFile(secretsFilePath())
	if err != nil {
		return nil, err
	}
	svc, _ := f.data[service].(map[string]any)
	val, ok := svc[account].(string)
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s in %s", service, account, f.path)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	f, err := readYAMLFile(secretsFilePath())
	if err != nil {
		return err
	}
	svc, _ := f.data[service].(map[string]any)
	if svc == nil {
		svc = map[string]any{}
		f.data[service] = svc
	}
	svc[account] = value
	return f.write()
}
