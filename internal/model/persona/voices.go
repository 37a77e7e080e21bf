package persona

import (
	_ "embed"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed voices.yaml
var defaultCatalog []byte

// VoiceCatalog maps a declared language to the upstream voices that speak it.
type VoiceCatalog struct {
	DefaultLanguage string              `yaml:"default_language"`
	Languages       map[string][]string `yaml:"languages"`
}

// DefaultVoiceCatalog parses the embedded catalog.
func DefaultVoiceCatalog() *VoiceCatalog {
	catalog, err := ParseVoiceCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded voice catalog invalid: %v", err))
	}
	return catalog
}

// LoadVoiceCatalog reads a catalog file; an empty path yields the embedded default.
func LoadVoiceCatalog(path string) (*VoiceCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultVoiceCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice catalog %s: %w", path, err)
	}
	return ParseVoiceCatalog(data)
}

// ParseVoiceCatalog decodes and validates catalog YAML.
func ParseVoiceCatalog(data []byte) (*VoiceCatalog, error) {
	var catalog VoiceCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse voice catalog: %w", err)
	}

	if len(catalog.Languages) == 0 {
		return nil, fmt.Errorf("voice catalog has no languages")
	}
	for lang, voices := range catalog.Languages {
		if len(voices) == 0 {
			return nil, fmt.Errorf("voice catalog language %q has no voices", lang)
		}
	}
	if catalog.DefaultLanguage == "" {
		catalog.DefaultLanguage = catalog.sortedLanguages()[0]
	}
	if _, ok := catalog.Languages[catalog.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %q missing from catalog", catalog.DefaultLanguage)
	}

	return &catalog, nil
}

// SelectVoice picks a voice for language. The same (language, personaID) pair
// always yields the same voice.
func (c *VoiceCatalog) SelectVoice(language, personaID string) string {
	voices := c.Languages[c.ResolveLanguage(language)]
	if len(voices) == 0 {
		return ""
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(personaID))))
	return voices[int(h.Sum32()%uint32(len(voices)))]
}

// ResolveLanguage maps a declared language onto a catalog key: exact match,
// then case-insensitive, then primary subtag, then the default language.
func (c *VoiceCatalog) ResolveLanguage(language string) string {
	language = strings.TrimSpace(language)
	if _, ok := c.Languages[language]; ok {
		return language
	}

	sorted := c.sortedLanguages()
	for _, key := range sorted {
		if strings.EqualFold(key, language) {
			return key
		}
	}

	primary := strings.ToLower(strings.SplitN(strings.ReplaceAll(language, "_", "-"), "-", 2)[0])
	if primary != "" {
		for _, key := range sorted {
			if strings.ToLower(strings.SplitN(key, "-", 2)[0]) == primary {
				return key
			}
		}
	}

	return c.DefaultLanguage
}

func (c *VoiceCatalog) sortedLanguages() []string {
	keys := make([]string, 0, len(c.Languages))
	for key := range c.Languages {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
