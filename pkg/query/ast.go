package query

import "github.com/coreutil/factdb/pkg/fact"

// Action names the dispatchable operation a parsed Query represents.
type Action string

const (
	ActionCreate     Action = "create"
	ActionSet        Action = "set"
	ActionDel        Action = "del"
	ActionArchive    Action = "archive"
	ActionGet        Action = "get"
	ActionHistory    Action = "history"
	ActionList       Action = "list"
	ActionHints      Action = "hints"
	ActionChangesets Action = "changesets"
	ActionReplicate  Action = "replicate"
)

// Query is the parser's output: an action name and the fact list that
// carries its arguments. HintsPrefix carries the raw "#t" / "#t/" /
// "#t/p" literal for the hints action, preserving whether the original
// text ended in "/".
type Query struct {
	Action      Action
	Facts       []fact.Fact
	HintsPrefix string
}
