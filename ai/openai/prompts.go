package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/lattice/ai"
)

const extractionResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {
            "type": "string",
            "pattern": "^[a-z0-9]+( [a-z0-9]+)*$"
          },
          "type": {
            "type": "string"
          },
          "importance": {
            "type": "integer",
            "minimum": 1,
            "maximum": 10
          }
        },
        "required": ["name", "type", "importance"],
        "additionalProperties": false
      }
    },
    "relationships": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "source": {"type": "string"},
          "target": {"type": "string"},
          "type": {"type": "string"}
        },
        "required": ["source", "target", "type"],
        "additionalProperties": false
      }
    }
  },
  "required": ["entities", "relationships"],
  "additionalProperties": false
}`

const extractionPromptTemplate = `Extract the named entities from the given passage of a document and the relationships the passage states between them. Return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Entity names must be lowercase, 1-4 words, singular form only.
- Type field must match exactly one of the listed values: %s.
- Importance is an integer from 1 (least relevant) to 10 (most central). Rate based on how essential the entity is for understanding the passage.
- Relationship source and target must be names that appear in "entities".
- Relationship type is a short lowercase verb phrase joined with underscores, such as "located_in" or "designed_by".
- Include only entities and relationships that are explicitly stated or clearly implied by the passage. Do not hallucinate.
- If nothing can be identified, return "entities": [] and "relationships": [].
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "The Eiffel Tower, designed by Gustave Eiffel's company, was completed in Paris in 1889."
Output:
{
  "entities": [
    {"name":"eiffel tower","type":"artifact","importance":9},
    {"name":"gustave eiffel","type":"person","importance":7},
    {"name":"paris","type":"location","importance":7},
    {"name":"1889","type":"date","importance":4}
  ],
  "relationships": [
    {"source":"eiffel tower","target":"gustave eiffel","type":"designed_by"},
    {"source":"eiffel tower","target":"paris","type":"located_in"}
  ]
}

Example (no entities):
Input: "see the table below for details"
Output:
{
  "entities": [],
  "relationships": []
}`

// buildExtractionPrompt creates the system prompt with entity types embedded.
func buildExtractionPrompt() string {
	return fmt.Sprintf(extractionPromptTemplate,
		extractionResponseSchema,
		strings.Join(ai.EntityTypes, ", "))
}
