package skill

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
)

// KnownToolsFunc returns the set of currently-registered tool names, so
// the loader can reject skills that reference an unknown tool without
// importing internal/tool directly.
type KnownToolsFunc func() []string

// Loader loads skill definitions from a directory of *.yaml files,
// validates them per spec.md §4.2, and exposes the validated set
// through an immutable snapshot swapped atomically on reload.
type Loader struct {
	dir        string
	knownTools KnownToolsFunc
	logger     *slog.Logger

	mu     sync.RWMutex
	skills map[string]*Skill

	watcher *fsnotify.Watcher
}

// NewLoader builds a Loader rooted at dir. knownTools is consulted at
// validation time; pass nil to skip tool-name validation (e.g. in
// tests that only exercise loader plumbing).
func NewLoader(dir string, knownTools KnownToolsFunc, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:        dir,
		knownTools: knownTools,
		logger:     logger,
		skills:     make(map[string]*Skill),
	}
}

// Load reads every *.yaml/*.yml file in the loader's directory,
// validates each skill, and atomically swaps the in-memory map.
// A single invalid skill is logged and excluded; it does not prevent
// the rest from loading.
func (l *Loader) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return &agentgwerr.ConfigError{Section: "skills", Message: "failed to read skills directory", Err: err}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(l.dir, e.Name()))
		}
	}
	sort.Strings(files)

	next := make(map[string]*Skill, len(files))
	var names []string
	for _, f := range files {
		s, err := l.loadOne(f)
		if err != nil {
			l.logger.Error("skill rejected", "file", f, "error", err)
			continue
		}
		if _, dup := next[s.Name]; dup {
			l.logger.Error("skill rejected", "file", f, "error", fmt.Sprintf("duplicate skill name %q", s.Name))
			continue
		}
		next[s.Name] = s
		names = append(names, s.Name)
	}

	l.warnUnknownSubAgents(next)

	l.mu.Lock()
	l.skills = next
	l.mu.Unlock()

	l.logger.Info("skills loaded", "count", len(next), "names", names)
	return nil
}

func (l *Loader) loadOne(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var s Skill
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	s.SourceFile = path

	if err := l.validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (l *Loader) validate(s *Skill) error {
	if s.Name == "" {
		return &agentgwerr.SkillValidationError{Skill: s.SourceFile, Message: "name is required"}
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return &agentgwerr.SkillValidationError{Skill: s.Name, Message: fmt.Sprintf("temperature %v outside [0, 2]", s.Temperature)}
	}
	if s.MaxIterations <= 0 {
		return &agentgwerr.SkillValidationError{Skill: s.Name, Message: fmt.Sprintf("max_iterations must be > 0, got %d", s.MaxIterations)}
	}
	if s.RAGContext != nil && s.RAGContext.Enabled && s.RAGContext.TopK <= 0 {
		return &agentgwerr.SkillValidationError{Skill: s.Name, Message: fmt.Sprintf("rag_context.top_k must be > 0, got %d", s.RAGContext.TopK)}
	}

	if l.knownTools != nil {
		known := toSet(l.knownTools())
		for _, t := range s.Tools {
			if !known[t] {
				return &agentgwerr.SkillValidationError{Skill: s.Name, Message: fmt.Sprintf("unknown tool %q", t)}
			}
		}
	}

	return nil
}

// warnUnknownSubAgents logs (but does not reject) skills referencing a
// sub-agent name absent from the loaded set, since sub_agents is
// advisory per spec.md §3 — the runtime gate is orchestration depth.
func (l *Loader) warnUnknownSubAgents(skills map[string]*Skill) {
	for _, s := range skills {
		for _, sub := range s.SubAgents {
			if _, ok := skills[sub]; !ok {
				l.logger.Warn("skill references unknown sub-agent", "skill", s.Name, "sub_agent", sub)
			}
		}
	}
}

// Get returns the named skill from the current snapshot.
func (l *Loader) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// All returns every loaded skill, unordered.
func (l *Loader) All() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	return out
}

// Watch starts an fsnotify watch on the skills directory and calls
// Load on every create/write/remove/rename event until ctx is done.
// Errors from individual reload attempts are logged, not returned.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	l.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.Load(); err != nil {
					l.logger.Error("skill reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("skill watcher error", "error", err)
			}
		}
	}()

	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
