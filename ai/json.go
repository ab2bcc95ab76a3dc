// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import "strings"

// CleanJSON prepares a model response for json.Unmarshal. It strips
// markdown code fences, drops any prose around the outermost object and
// repairs unquoted keys.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if start := strings.IndexByte(s, '{'); start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndexByte(s, '}'); end >= 0 && end < len(s)-1 {
		s = s[:end+1]
	}
	return RepairJSON(s)
}

// RepairJSON attempts to fix common JSON formatting issues from LLM responses.
// It specifically handles missing opening quotes before keys in JSON objects.
func RepairJSON(s string) string {
	// Pattern: after { or , followed by optional whitespace, then a word followed by ":
	// Example: `, type":` -> `, "type":`
	result := []rune(s)
	fixed := make([]rune, 0, len(result)+100)

	i := 0
	for i < len(result) {
		ch := result[i]

		if ch != '{' && ch != ',' {
			fixed = append(fixed, ch)
			i++
			continue
		}

		fixed = append(fixed, ch)
		i++

		for i < len(result) && (result[i] == ' ' || result[i] == '\n' || result[i] == '\t') {
			fixed = append(fixed, result[i])
			i++
		}

		if i >= len(result) || result[i] == '"' || !isLetter(result[i]) {
			continue
		}

		keyStart := i
		for i < len(result) && (isLetter(result[i]) || result[i] == '_' || result[i] == ' ') {
			i++
		}
		keyEnd := i

		// A closing quote followed by a colon means the opening quote is missing.
		if i+1 < len(result) && result[i] == '"' && result[i+1] == ':' {
			fixed = append(fixed, '"')
			for j := keyStart; j < keyEnd; j++ {
				if result[j] != ' ' || (j > keyStart && j < keyEnd-1) {
					fixed = append(fixed, result[j])
				}
			}
			continue
		}
		fixed = append(fixed, result[keyStart:i]...)
	}

	return string(fixed)
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
