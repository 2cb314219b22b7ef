// Package persona holds the fixed registry of AI debate participants.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var defaultRegistryYAML []byte

// namespace for persona user ids; ids stay stable across restarts and hosts.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://triad-arena/persona"))

var ErrEmptyRegistry = errors.New("persona registry is empty")

// Persona is one fixed AI participant.
type Persona struct {
	Key         string   `yaml:"key" json:"key"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	Style       string   `yaml:"style" json:"-"`
	Stance      string   `yaml:"stance" json:"-"`
	Fallbacks   []string `yaml:"fallbacks" json:"-"`
	UserID      string   `yaml:"-" json:"user_id"`
}

// Registry is an ordered, read-only persona list.
type Registry struct {
	personas []Persona
	byKey    map[string]int
	byUserID map[string]int
}

type registryFile struct {
	Personas []Persona `yaml:"personas"`
}

// UserIDFor returns the deterministic user id of a persona key.
func UserIDFor(key string) string {
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse persona registry: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, ErrEmptyRegistry
	}

	r := &Registry{
		byKey:    make(map[string]int, len(file.Personas)),
		byUserID: make(map[string]int, len(file.Personas)),
	}
	for _, p := range file.Personas {
		p.Key = strings.TrimSpace(p.Key)
		if p.Key == "" {
			return nil, fmt.Errorf("persona without key")
		}
		if _, dup := r.byKey[p.Key]; dup {
			return nil, fmt.Errorf("duplicate persona key: %s", p.Key)
		}
		if p.DisplayName == "" {
			p.DisplayName = p.Key
		}
		p.Style = strings.TrimSpace(p.Style)
		p.Stance = strings.TrimSpace(p.Stance)
		p.UserID = UserIDFor(p.Key)

		r.byKey[p.Key] = len(r.personas)
		r.byUserID[p.UserID] = len(r.personas)
		r.personas = append(r.personas, p)
	}
	return r, nil
}

// Default returns the embedded registry.
func Default() (*Registry, error) {
	return Parse(defaultRegistryYAML)
}

func (r *Registry) Len() int {
	return len(r.personas)
}

// All returns a copy of the personas in rotation order.
func (r *Registry) All() []Persona {
	out := make([]Persona, len(r.personas))
	copy(out, r.personas)
	return out
}

func (r *Registry) ByKey(key string) (Persona, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return Persona{}, false
	}
	return r.personas[i], true
}

func (r *Registry) ByUserID(userID string) (Persona, bool) {
	i, ok := r.byUserID[userID]
	if !ok {
		return Persona{}, false
	}
	return r.personas[i], true
}

func (r *Registry) IsPersona(userID string) bool {
	_, ok := r.byUserID[userID]
	return ok
}

// At maps a 1-based rotation sequence number onto the registry.
func (r *Registry) At(seq int64) Persona {
	n := int64(len(r.personas))
	i := (seq - 1) % n
	if i < 0 {
		i += n
	}
	return r.personas[i]
}

// DisplayName resolves a user id to a persona name, or returns the id.
func (r *Registry) DisplayName(userID string) string {
	if p, ok := r.ByUserID(userID); ok {
		return p.DisplayName
	}
	return userID
}

// FallbackReply picks a canned reply seeded with snippet. The same snippet
// always yields the same reply.
func (p Persona) FallbackReply(snippet string) string {
	snippet = strings.TrimSpace(snippet)
	if len(p.Fallbacks) == 0 {
		if snippet == "" {
			return p.Stance
		}
		return fmt.Sprintf("Let's stay on \"%s\" for a moment.", snippet)
	}
	if snippet == "" {
		return p.Stance
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(snippet))
	tmpl := p.Fallbacks[int(h.Sum32()%uint32(len(p.Fallbacks)))]
	return strings.ReplaceAll(tmpl, "{snippet}", snippet)
}

// Snippet shortens text to at most max runes on a word boundary.
func Snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
