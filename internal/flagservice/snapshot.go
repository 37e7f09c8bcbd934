package flagservice

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/rafaeljc/featuregate/internal/registry"
	"github.com/rafaeljc/featuregate/internal/ruleengine"
	"github.com/rafaeljc/featuregate/internal/store"
)

// compiled pairs an evaluation-ready flag with the record version it came from.
type compiled struct {
	flag    *ruleengine.FeatureFlag
	version int64
}

// snapshot is an immutable view of every flag. It is never modified after
// publication; changes produce a new snapshot (copy-on-write).
type snapshot struct {
	version uint64
	byName  map[string]*ruleengine.FeatureFlag
	byID    map[string]compiled
	names   []string // sorted
}

// buildSnapshot compiles flags into a fresh snapshot. Records that fail to
// compile are skipped and logged so one corrupt row cannot hide every flag.
func buildSnapshot(version uint64, flags []store.Flag, log *slog.Logger) *snapshot {
	s := &snapshot{
		version: version,
		byName:  make(map[string]*ruleengine.FeatureFlag, len(flags)),
		byID:    make(map[string]compiled, len(flags)),
	}

	for i := range flags {
		f, err := ruleengine.Compile(registry.Spec(&flags[i]))
		if err != nil {
			log.Error("skipping flag that failed to compile",
				slog.String("flag_id", flags[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.byID[f.ID] = compiled{flag: f, version: flags[i].Version}
		s.byName[f.Name] = f
	}

	s.names = sortedNames(s.byName)
	return s
}

// with returns a copy of s holding rec. ok is false when s already holds the
// same or a newer version of rec, in which case s is returned unchanged.
func (s *snapshot) with(rec store.Flag) (next *snapshot, ok bool, err error) {
	if cur, exists := s.byID[rec.ID]; exists && cur.version >= rec.Version {
		return s, false, nil
	}

	f, err := ruleengine.Compile(registry.Spec(&rec))
	if err != nil {
		return s, false, err
	}

	next = s.clone()
	if cur, exists := next.byID[rec.ID]; exists {
		next.dropName(cur.flag)
	}
	next.byID[rec.ID] = compiled{flag: f, version: rec.Version}
	next.byName[f.Name] = f
	next.names = sortedNames(next.byName)
	return next, true, nil
}

// without returns a copy of s lacking the flag with the given id.
func (s *snapshot) without(id string) (*snapshot, bool) {
	cur, exists := s.byID[id]
	if !exists {
		return s, false
	}

	next := s.clone()
	delete(next.byID, id)
	next.dropName(cur.flag)
	next.names = sortedNames(next.byName)
	return next, true
}

func (s *snapshot) clone() *snapshot {
	return &snapshot{
		version: s.version + 1,
		byName:  maps.Clone(s.byName),
		byID:    maps.Clone(s.byID),
	}
}

// dropName releases f's name, unless another flag has claimed it meanwhile.
func (s *snapshot) dropName(f *ruleengine.FeatureFlag) {
	if owner, ok := s.byName[f.Name]; ok && owner.ID == f.ID {
		delete(s.byName, f.Name)
	}
}

func sortedNames(byName map[string]*ruleengine.FeatureFlag) []string {
	return slices.Sorted(maps.Keys(byName))
}
