package registry

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"unitforge/pkg/logx"
)

// fileStore is a dependency-free registry backend.
//
// Files:
//   - <prefix>.snapshot.json (full state, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only put/delete records)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	deployments  map[string]Deployment

	writes int
}

type journalRecord struct {
	Op         string      `json:"op"` // put | delete
	Name       string      `json:"name,omitempty"`
	Deployment *Deployment `json:"deployment,omitempty"`
}

const compactEvery = 200

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("registry.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	deployments := map[string]Deployment{}
	_ = loadSnapshot(snapPath, deployments)
	_ = replayJournal(journalPath, deployments)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		deployments:  deployments,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Final compaction keeps restarts cheap.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("registry compact on close failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) PutDeployment(d Deployment) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("deployment name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("registry journal closed")
	}
	s.deployments[d.Name] = d
	return s.appendLocked(journalRecord{Op: "put", Deployment: &d})
}

func (s *fileStore) GetDeployment(name string) (Deployment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[name]
	return d, ok, nil
}

func (s *fileStore) ListDeployments() ([]Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		out = append(out, d)
	}
	return out, nil
}

func (s *fileStore) DeleteDeployment(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("registry journal closed")
	}
	if _, ok := s.deployments[name]; !ok {
		return nil
	}
	delete(s.deployments, name)
	return s.appendLocked(journalRecord{Op: "delete", Name: name})
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("registry compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.deployments); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, into map[string]Deployment) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &into)
}

func replayJournal(path string, into map[string]Deployment) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// A torn tail write is not fatal; keep what replayed.
			continue
		}
		switch rec.Op {
		case "put":
			if rec.Deployment != nil {
				into[rec.Deployment.Name] = *rec.Deployment
			}
		case "delete":
			delete(into, rec.Name)
		}
	}
	return sc.Err()
}
