// Package statusfile persists the small amount of state a replica needs
// to remember across restarts: whether it was writable and replicating
// when it last shut down, and the last replication index it applied.
// spec.md §6 names this `<dataDir>/_server_status.json`.
package statusfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

const fileName = "_server_status.json"

// Status is the persisted shape.
type Status struct {
	Writable         bool  `json:"writable"`
	Replicating      bool  `json:"replicating"`
	LastAppliedIndex int64 `json:"lastAppliedIndex"`
}

// Path returns the status file's path under dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, fileName)
}

// Load reads the status file, returning the zero Status if it does not
// exist yet (first start).
func Load(dataDir string) (Status, error) {
	raw, err := os.ReadFile(Path(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, nil
		}

		return Status{}, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "read status file")
	}

	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return Status{}, dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "parse status file")
	}

	return s, nil
}

// Save atomically writes s to the status file via a temp-file-then-rename.
func Save(dataDir string, s Status) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "marshal status file")
	}

	tmp := Path(dataDir) + ".tmp"

	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "write status file")
	}

	if err := os.Rename(tmp, Path(dataDir)); err != nil {
		return dogmaerr.Wrap(dogmaerr.KindStorageFault, err, "rename status file into place")
	}

	return nil
}
