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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMappers_Category(t *testing.T) {
	m := DefaultMappers()

	assert.Equal(t, "education grants and scholarships", m.Category("EDUCATION"))
	assert.Equal(t, "education grants and scholarships", m.Category(" education "))
	assert.Equal(t, "rural development", m.Category("RURAL_DEVELOPMENT"))
}

func TestMappers_Geography(t *testing.T) {
	m := DefaultMappers()

	assert.Equal(t, "Bulgaria", m.Geography("BULGARIA"))
	assert.Equal(t, "the European Union", m.Geography("eu"))
	assert.Equal(t, "any country", m.Geography(""))
	assert.Equal(t, "north macedonia", m.Geography("NORTH_MACEDONIA"))
}

func TestMappers_DescribeCategories(t *testing.T) {
	m := DefaultMappers()

	got := m.DescribeCategories([]string{"EDUCATION", "", "CULTURE"})
	assert.Equal(t, "education grants and scholarships, culture and arts funding", got)
}

func TestMappers_ConfiguredTablesWin(t *testing.T) {
	m := NewMappers(
		map[string]string{"education": "custom education wording"},
		map[string]string{"bulgaria": "Bulgaria and its regions"},
	)

	assert.Equal(t, "custom education wording", m.Category("EDUCATION"))
	assert.Equal(t, "Bulgaria and its regions", m.Geography("BULGARIA"))
}
