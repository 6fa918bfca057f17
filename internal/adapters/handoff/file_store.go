// Package handoff persists one scan phase's observations for the following
// relay phase. The format is an internal contract between the two phases: one
// line per beacon, "address rssi uuid". Writes go through a temp file and a
// rename so a reader never sees a torn file.
package handoff

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

const noUUID = "-"

type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Save(res domain.ScanResult) error {
	addrs := make([]string, 0, len(res))
	for addr := range res {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var b strings.Builder
	for _, addr := range addrs {
		o := res[addr]
		uuid := noUUID
		if len(o.UUIDs) > 0 {
			uuid = o.UUIDs[0]
		}
		fmt.Fprintf(&b, "%s %d %s\n", o.Address, o.RSSI, uuid)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write handoff temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace handoff file: %w", err)
	}
	return nil
}

// Load reads the latest scan result back. A missing file means no scan has
// completed yet and is not an error; malformed lines are skipped.
func (f *FileStore) Load() (domain.ScanResult, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ScanResult{}, nil
		}
		return nil, fmt.Errorf("open handoff file: %w", err)
	}
	defer file.Close()

	res := domain.ScanResult{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		rssi, err := strconv.ParseInt(fields[1], 10, 16)
		if err != nil {
			continue
		}
		o := domain.Observation{Address: fields[0], RSSI: int16(rssi)}
		if len(fields) > 2 && fields[2] != noUUID {
			o.UUIDs = []string{fields[2]}
		}
		res[o.Address] = o
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read handoff file: %w", err)
	}
	return res, nil
}

var _ ports.ObservationStore = (*FileStore)(nil)
