package adapter

import "waybill-tracker/internal/features/waybill/domain"

// categoryMapping resolves one carrier category to a canonical status
// code. A category is either a flat operation-code table or a decision
// rule over the raw scan fields, for categories whose sub-code space is
// ambiguous and needs the free-text remark to disambiguate.
type categoryMapping struct {
	table map[string]int
	rule  func(opCode, remark string) int
}

func tableOf(ops map[string]int) categoryMapping {
	return categoryMapping{table: ops}
}

func ruleOf(fn func(opCode, remark string) int) categoryMapping {
	return categoryMapping{rule: fn}
}

func (m categoryMapping) resolve(opCode, remark string) int {
	if m.rule != nil {
		return m.rule(opCode, remark)
	}
	if code, ok := m.table[opCode]; ok {
		return code
	}
	return domain.StatusInTransit
}

// statusMap is the two-level carrier category -> operation -> canonical
// code mapping. Unknown categories fall back to the generic in-transit
// code rather than failing.
type statusMap map[string]categoryMapping

func (sm statusMap) resolve(category, opCode, remark string) int {
	if m, ok := sm[category]; ok {
		return m.resolve(opCode, remark)
	}
	return domain.StatusInTransit
}
