// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package query

import "strings"

// Mappers translate category and geography identifiers into the textual
// descriptions that prompt templates embed. Both tables are
// configuration driven; an unknown identifier degrades to a humanized
// form of the key so generation never stalls on vocabulary drift.
type Mappers struct {
	categories  map[string]string
	geographies map[string]string
}

// NewMappers builds a mapper set from configured tables. Keys are
// matched case-insensitively.
func NewMappers(categories, geographies map[string]string) *Mappers {
	m := &Mappers{
		categories:  make(map[string]string, len(categories)),
		geographies: make(map[string]string, len(geographies)),
	}
	for k, v := range categories {
		m.categories[strings.ToUpper(k)] = v
	}
	for k, v := range geographies {
		m.geographies[strings.ToUpper(k)] = v
	}
	return m
}

var defaultCategories = map[string]string{
	"EDUCATION":     "education grants and scholarships",
	"RESEARCH":      "research fellowships and science funding",
	"CULTURE":       "culture and arts funding",
	"INNOVATION":    "startup and innovation funding",
	"CIVIL_SOCIETY": "civil society and NGO support programs",
	"HEALTHCARE":    "healthcare and medical program funding",
}

var defaultGeographies = map[string]string{
	"BULGARIA": "Bulgaria",
	"EU":       "the European Union",
	"BALKANS":  "the Balkan region",
	"GLOBAL":   "programs open to international applicants",
}

// DefaultMappers returns the built-in vocabulary for Bulgarian funding
// discovery.
func DefaultMappers() *Mappers {
	return NewMappers(defaultCategories, defaultGeographies)
}

// Category resolves a single category identifier.
func (m *Mappers) Category(key string) string {
	if desc, ok := m.categories[strings.ToUpper(strings.TrimSpace(key))]; ok {
		return desc
	}
	return humanize(key)
}

// Geography resolves a geographic scope identifier. An empty scope
// resolves to a worldwide description rather than an empty string.
func (m *Mappers) Geography(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "any country"
	}
	if desc, ok := m.geographies[strings.ToUpper(key)]; ok {
		return desc
	}
	return humanize(key)
}

// DescribeCategories joins the resolved category descriptions for
// embedding in a prompt.
func (m *Mappers) DescribeCategories(keys []string) string {
	descs := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		descs = append(descs, m.Category(k))
	}
	return strings.Join(descs, ", ")
}

func humanize(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", " "))
}
