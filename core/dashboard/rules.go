package dashboard

// Rule operators
const (
	OpLT  = "<"
	OpLTE = "<="
	OpGT  = ">"
	OpGTE = ">="
	OpEQ  = "=="
	OpNE  = "!="
)

var ruleOperators = []string{OpLT, OpLTE, OpGT, OpGTE, OpEQ, OpNE}

// Rule colors an indicator widget when its comparison holds for the field's value.
type Rule struct {
	Operator string  `json:"operator" validate:"required,ruleop"`
	Value    float64 `json:"value"`
	Color    string  `json:"color" validate:"required,notblank"`
}

// Matches reports whether `v <Operator> r.Value` holds. Unknown operators never match.
func (r Rule) Matches(v float64) bool {
	switch r.Operator {
	case OpLT:
		return v < r.Value
	case OpLTE:
		return v <= r.Value
	case OpGT:
		return v > r.Value
	case OpGTE:
		return v >= r.Value
	case OpEQ:
		return v == r.Value
	case OpNE:
		return v != r.Value
	}
	return false
}

// EvaluateRules walks rules in order and returns the color of the first one matching v.
// ok is false when no rule matches.
func EvaluateRules(rules []Rule, v float64) (color string, ok bool) {
	for _, r := range rules {
		if r.Matches(v) {
			return r.Color, true
		}
	}
	return "", false
}
