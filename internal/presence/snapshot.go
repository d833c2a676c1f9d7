package presence

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"
)

// snapshotDoc is the on-disk devMode shape: spec.md §4.1 describes it as
// "{data, hash, keys}" — data is the plain key/value store, hash is the
// set of hashes, and sets and lists hold the set and list collections that
// would otherwise be lost across a dev restart.
type snapshotDoc struct {
	Data   map[string]string            `json:"data"`
	Hash   map[string]map[string]string `json:"hash"`
	Sets   map[string][]string          `json:"sets"`
	Lists  map[string][]string          `json:"lists"`
}

type snapshotStore struct {
	path string
}

// EnableSnapshot arms devMode persistence: Shutdown writes a snapshot to
// path, and the snapshot (if present) is loaded immediately so a restarted
// dev process resumes with the same presence state.
func (l *Local) EnableSnapshot(path string) {
	l.mu.Lock()
	l.snapshot = &snapshotStore{path: path}
	l.mu.Unlock()
	l.restore(path)
}

func (l *Local) restore(path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var doc snapshotDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		log.Warn().Str("module", "presence.local").Err(err).Msg("discarding unreadable snapshot")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range doc.Data {
		l.kv[k] = v
	}
	for k, fields := range doc.Hash {
		l.hashes[k] = make(map[string]string, len(fields))
		for f, v := range fields {
			l.hashes[k][f] = v
		}
	}
	for k, members := range doc.Sets {
		s := make(map[string]struct{}, len(members))
		for _, m := range members {
			s[m] = struct{}{}
		}
		l.sets[k] = s
	}
	for k, vs := range doc.Lists {
		l.lists[k] = append([]string(nil), vs...)
	}
	log.Info().Str("module", "presence.local").Str("path", path).Msg("restored devMode snapshot")
}

// save writes the current state to disk. Caller must hold l.mu.
func (s *snapshotStore) save(l *Local) {
	doc := snapshotDoc{
		Data:  make(map[string]string, len(l.kv)),
		Hash:  make(map[string]map[string]string, len(l.hashes)),
		Sets:  make(map[string][]string, len(l.sets)),
		Lists: make(map[string][]string, len(l.lists)),
	}
	for k, v := range l.kv {
		doc.Data[k] = v
	}
	for k, fields := range l.hashes {
		m := make(map[string]string, len(fields))
		for f, v := range fields {
			m[f] = v
		}
		doc.Hash[k] = m
	}
	for k, members := range l.sets {
		vs := make([]string, 0, len(members))
		for m := range members {
			vs = append(vs, m)
		}
		doc.Sets[k] = vs
	}
	for k, vs := range l.lists {
		doc.Lists[k] = append([]string(nil), vs...)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Error().Str("module", "presence.local").Err(err).Msg("marshal snapshot")
		return
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		log.Error().Str("module", "presence.local").Err(err).Msg("write snapshot")
	}
}
