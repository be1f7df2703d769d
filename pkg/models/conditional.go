package models

// ConditionKind names the predicate a condition node evaluates.
type ConditionKind string

const (
	ConditionHasTag          ConditionKind = "has_tag"
	ConditionMissingTag      ConditionKind = "missing_tag"
	ConditionFieldEquals     ConditionKind = "field_equals"
	ConditionContactSourceIs ConditionKind = "contact_source_is"
)

// ConditionKinds lists every supported condition kind.
var ConditionKinds = []ConditionKind{
	ConditionHasTag,
	ConditionMissingTag,
	ConditionFieldEquals,
	ConditionContactSourceIs,
}

// TagConditionConfig serves has_tag and missing_tag.
type TagConditionConfig struct {
	TagName string `json:"tagName"`
}

type FieldEqualsConfig struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type ContactSourceConfig struct {
	Source string `json:"source"`
}
