// Package render holds presentation helpers shared by the terminal client:
// image directive resolution, date grouping and styles.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// MaxImages caps how many images one directive resolves to.
const MaxImages = 6

var directiveRe = regexp.MustCompile(`(?i)show_image:\s*\[([^\]]*)\]`)

// Catalog maps an image category to its candidate filenames in preference
// order.
type Catalog map[string][]string

// Directive is an agent message with its image directive resolved.
type Directive struct {
	Text   string   // message text with the directive removed
	Names  []string // names as written in the directive
	Images []string // resolved filenames, at most MaxImages
}

// ParseImageDirective strips every show_image directive from text and
// resolves the named categories against catalog. Text without a directive
// is returned unchanged.
func ParseImageDirective(text string, catalog Catalog) Directive {
	matches := directiveRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return Directive{Text: text}
	}

	var names []string
	for _, m := range matches {
		for _, n := range strings.Split(m[1], ",") {
			n = strings.Trim(strings.TrimSpace(n), `"'`)
			if n != "" {
				names = append(names, n)
			}
		}
	}
	stripped := strings.TrimSpace(directiveRe.ReplaceAllString(text, ""))
	return Directive{
		Text:   stripped,
		Names:  names,
		Images: catalog.Resolve(names),
	}
}

// Resolve picks at most MaxImages filenames for names. Slots are split
// evenly across the resolved categories with the remainder going to the
// earlier ones. A filename is never picked twice, and slots a category
// cannot fill are handed back to the others in order.
func (c Catalog) Resolve(names []string) []string {
	var groups [][]string
	seenGroup := make(map[string]bool)
	for _, n := range names {
		key, files := c.lookup(n)
		if len(files) == 0 || seenGroup[key] {
			continue
		}
		seenGroup[key] = true
		groups = append(groups, files)
	}
	if len(groups) == 0 {
		return nil
	}

	quota := make([]int, len(groups))
	base, extra := MaxImages/len(groups), MaxImages%len(groups)
	for i := range quota {
		quota[i] = base
		if i < extra {
			quota[i]++
		}
	}

	picked := make(map[string]bool)
	var out []string
	take := func(files []string, n int) {
		for _, f := range files {
			if n == 0 || len(out) == MaxImages {
				return
			}
			if picked[f] {
				continue
			}
			picked[f] = true
			out = append(out, f)
			n--
		}
	}
	for i, files := range groups {
		take(files, quota[i])
	}
	for _, files := range groups {
		take(files, MaxImages)
	}
	return out
}

// lookup resolves one name: exact category, then case-insensitive
// category, then filenames containing the name.
func (c Catalog) lookup(name string) (string, []string) {
	if files, ok := c[name]; ok {
		return name, files
	}
	lower := strings.ToLower(name)
	keys := c.keys()
	for _, k := range keys {
		if strings.ToLower(k) == lower {
			return k, c[k]
		}
	}
	var files []string
	for _, k := range keys {
		for _, f := range c[k] {
			if strings.Contains(strings.ToLower(f), lower) {
				files = append(files, f)
			}
		}
	}
	return "~" + lower, files
}

func (c Catalog) keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadCatalog builds a catalog from dir: each subdirectory is a category
// and its regular files, sorted by name, are the candidates.
func LoadCatalog(dir string) (Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("render: read catalog %s: %w", dir, err)
	}
	cat := make(Catalog)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("render: read category %s: %w", e.Name(), err)
		}
		var names []string
		for _, f := range files {
			if f.Type().IsRegular() {
				names = append(names, f.Name())
			}
		}
		if len(names) > 0 {
			cat[e.Name()] = names
		}
	}
	return cat, nil
}
