// Package prompts holds the instruction wording sent to the model. Defaults
// are compiled in; a directory of <name>.md files with YAML frontmatter can
// override any of them without a rebuild.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	Analyst     = "analyst"
	Recommender = "recommender"
	Banter      = "banter"
	BanterNight = "banter_night"
	SMS         = "sms"
	Morning     = "morning"
)

//go:embed defaults/*.md
var defaultFS embed.FS

var errInvalidPromptYAML = errors.New("invalid prompt YAML frontmatter")

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MaxTokens   int    `yaml:"maxTokens"`
}

type Prompt struct {
	Name        string
	Description string
	System      string
	MaxTokens   int
	Source      string
}

// Set is an immutable name → prompt table.
type Set struct {
	prompts map[string]Prompt
}

// Defaults returns the compiled-in prompt set.
func Defaults() *Set {
	set, err := loadFS(defaultFS, "defaults", "embedded:")
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded defaults: %v", err))
	}
	return set
}

// Load returns the defaults overlaid with the *.md files found in dir.
// A missing dir is not an error.
func Load(dir string) (*Set, error) {
	set := Defaults()
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return set, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("stat prompts dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("prompts path is not a directory: %s", dir)
	}

	overrides, err := loadFS(os.DirFS(dir), ".", dir+string(filepath.Separator))
	if err != nil {
		return nil, err
	}
	for name, p := range overrides.prompts {
		log.Printf("[prompts] override %s from %s", name, p.Source)
		set.prompts[name] = p
	}
	return set, nil
}

// Get returns the named prompt, or a zero Prompt with only Name set.
func (s *Set) Get(name string) Prompt {
	if p, ok := s.prompts[name]; ok {
		return p
	}
	return Prompt{Name: name}
}

func (s *Set) System(name string) string {
	return s.Get(name).System
}

// MaxTokens returns the prompt's token budget or def when it sets none.
func (s *Set) MaxTokens(name string, def int) int {
	if n := s.Get(name).MaxTokens; n > 0 {
		return n
	}
	return def
}

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.prompts))
	for name := range s.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadFS(fsys fs.FS, dir, sourcePrefix string) (*Set, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read prompts dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	set := &Set{prompts: make(map[string]Prompt, len(entries))}
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		source := sourcePrefix + entry.Name()
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read prompt %q: %w", source, err)
		}

		meta, body, err := parseFrontmatter(content)
		if err != nil {
			if errors.Is(err, errInvalidPromptYAML) {
				log.Printf("[prompts] warning: skip invalid YAML prompt %s: %v", source, err)
				continue
			}
			return nil, fmt.Errorf("parse prompt %q: %w", source, err)
		}
		name := strings.TrimSpace(meta.Name)
		if name == "" {
			name = strings.TrimSuffix(entry.Name(), ".md")
		}
		if prev, exists := seen[name]; exists {
			return nil, fmt.Errorf("duplicate prompt name %q in %s (already in %s)", name, source, prev)
		}
		seen[name] = source
		set.prompts[name] = Prompt{
			Name:        name,
			Description: strings.TrimSpace(meta.Description),
			System:      strings.TrimSpace(body),
			MaxTokens:   meta.MaxTokens,
			Source:      source,
		}
	}
	return set, nil
}

func parseFrontmatter(content []byte) (frontmatter, string, error) {
	text := strings.ReplaceAll(strings.TrimPrefix(string(content), "\uFEFF"), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		// Plain files are accepted as a bare system prompt.
		return frontmatter{}, text, nil
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return frontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return frontmatter{}, "", fmt.Errorf("%w: %v", errInvalidPromptYAML, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}
