// Package i18n implements the framework's message catalog: flat
// locale -> key -> message maps loaded from yaml files under a catalog
// directory, with simple %-verb message formatting and a default-locale
// fallback.
package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Catalog is a loaded set of locale message maps.
type Catalog struct {
	defaultLocale string
	messages      map[string]map[string]string // locale -> key -> message
}

// Load reads every *.yaml file directly under dir. Each file's base name
// (without extension) is taken as the locale it carries, e.g.
// config/i18n/en.yaml -> locale "en". A missing or empty dir yields an
// empty catalog rather than an error, since i18n is optional per service.
func Load(dir, defaultLocale string) (*Catalog, error) {
	c := &Catalog{defaultLocale: defaultLocale, messages: make(map[string]map[string]string)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("i18n: failed to read catalog dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		locale := strings.TrimSuffix(entry.Name(), ".yaml")

		k := koanf.New(".")
		if err := k.Load(file.Provider(filepath.Join(dir, entry.Name())), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("i18n: failed to load %s: %w", entry.Name(), err)
		}

		flat := make(map[string]string)
		for key, value := range k.All() {
			flat[key] = fmt.Sprintf("%v", value)
		}
		c.messages[locale] = flat
	}

	return c, nil
}

// T looks up key under locale, falling back to the catalog's default
// locale, and finally to key itself when no message is found anywhere.
// Extra args are applied with fmt.Sprintf if the message contains verbs.
func (c *Catalog) T(locale, key string, args ...any) string {
	msg, ok := c.lookup(locale, key)
	if !ok {
		msg, ok = c.lookup(c.defaultLocale, key)
	}
	if !ok {
		msg = key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (c *Catalog) lookup(locale, key string) (string, bool) {
	if locale == "" {
		return "", false
	}
	set, ok := c.messages[locale]
	if !ok {
		return "", false
	}
	msg, ok := set[key]
	return msg, ok
}

// Locales returns every locale this catalog has messages for.
func (c *Catalog) Locales() []string {
	locales := make([]string, 0, len(c.messages))
	for locale := range c.messages {
		locales = append(locales, locale)
	}
	return locales
}
