package miner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tonyke-bot/ore-miner/ore"
)

// LoadIdentities reads every keypair file in the folder (standard JSON
// byte-array wallet format) and derives the proof account for each. File
// order is made deterministic so batch membership is stable across restarts.
func LoadIdentities(folder string) ([]Identity, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read key folder: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	identities := make([]Identity, 0, len(names))
	for _, name := range names {
		path := filepath.Join(folder, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read keypair %s: %w", path, err)
		}
		var nums []int
		if err := json.Unmarshal(raw, &nums); err != nil {
			return nil, fmt.Errorf("parse keypair %s: %w", path, err)
		}
		seed := make([]byte, len(nums))
		for i, n := range nums {
			seed[i] = byte(n)
		}
		key, err := ore.KeypairFromBytes(seed)
		if err != nil {
			return nil, fmt.Errorf("keypair %s: %w", path, err)
		}
		identity, err := NewIdentity(key)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}

	if len(identities) == 0 {
		return nil, ErrNoIdentities
	}
	return identities, nil
}
