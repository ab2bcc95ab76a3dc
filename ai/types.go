package ai

// EntityTypes defines the valid categories for extracted entities.
// These types are used by entity extractors to classify what a document talks about.
var EntityTypes = []string{
	"abstract_concept",
	"activity",
	"artifact",
	"date",
	"document",
	"event",
	"law",
	"location",
	"measurement",
	"method",
	"organization",
	"person",
	"product",
	"software",
	"substance",
	"technology",
	"topic",
}
