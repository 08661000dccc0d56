package messages

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed texts/*.yaml
var textsFS embed.FS

const defaultLanguage = "en"

// Texts holds message templates loaded from the embedded yaml files.
type Texts struct {
	translations map[string]map[string]interface{}
}

func NewTexts(languages ...string) (*Texts, error) {
	if len(languages) == 0 {
		languages = []string{defaultLanguage}
	}

	t := &Texts{translations: make(map[string]map[string]interface{})}
	for _, lang := range languages {
		data, err := textsFS.ReadFile(fmt.Sprintf("texts/%s.yaml", lang))
		if err != nil {
			return nil, fmt.Errorf("read %s texts: %w", lang, err)
		}

		var tree map[string]interface{}
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse %s texts: %w", lang, err)
		}
		t.translations[lang] = tree
	}

	return t, nil
}

// Get resolves a dotted key ("complete.dm_title") and fills {{placeholders}}.
// Unknown keys come back as the key itself.
func (t *Texts) Get(key string, params map[string]string) string {
	return t.GetLang(defaultLanguage, key, params)
}

func (t *Texts) GetLang(lang, key string, params map[string]string) string {
	tree, ok := t.translations[lang]
	if !ok {
		tree = t.translations[defaultLanguage]
	}

	var current interface{} = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return key
		}
		current = m[part]
	}

	text, ok := current.(string)
	if !ok {
		return key
	}

	for name, value := range params {
		text = strings.ReplaceAll(text, "{{"+name+"}}", value)
	}
	return strings.TrimRight(text, "\n")
}
