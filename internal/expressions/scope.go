package expressions

import "github.com/rendis/leadflow/pkg/schema"

// ConditionScope builds the CEL activation for step conditions. Both maps are
// deep copies, so expressions never observe later mutation of the lead or the
// stored trigger data.
func ConditionScope(lead *schema.Lead, triggerData map[string]any) map[string]any {
	scope := map[string]any{
		"lead":    map[string]any{},
		"trigger": map[string]any{},
	}
	if lead != nil {
		scope["lead"] = deepCopyMap(lead.Vars())
	}
	if triggerData != nil {
		scope["trigger"] = deepCopyMap(triggerData)
	}
	return scope
}

// FilterScope builds the expr-lang environment for trigger filters.
func FilterScope(entityID string, kind schema.TriggerKind, event map[string]any) map[string]any {
	if event == nil {
		event = map[string]any{}
	}
	return map[string]any{
		"entity_id": entityID,
		"kind":      string(kind),
		"event":     deepCopyMap(event),
	}
}
