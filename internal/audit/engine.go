package audit

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
)

// nodeHandler inspects one node and may append issues to the walk context.
// Returns true if the handler has processed children and the walker should
// stop descending.
type nodeHandler func(ctx *walkContext, node *sitter.Node) bool

// walkContext carries shared state used by all rule handlers during one
// tree traversal.
type walkContext struct {
	source []byte
	path   string
	issues []Issue
}

func (c *walkContext) text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return string(c.source[node.StartByte():node.EndByte()])
}

func (c *walkContext) line(node *sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}

// ruleEngine walks the syntax tree in document order and dispatches node
// handlers by kind.
type ruleEngine struct {
	handlers map[string]nodeHandler
}

func newRuleEngine(handlers map[string]nodeHandler) *ruleEngine {
	return &ruleEngine{handlers: handlers}
}

func (e *ruleEngine) Walk(ctx *walkContext, node *sitter.Node) {
	if node == nil {
		return
	}

	stop := false
	if handler, ok := e.handlers[node.Kind()]; ok {
		stop = handler(ctx, node)
	}

	if !stop {
		for i := uint(0); i < node.ChildCount(); i++ {
			e.Walk(ctx, node.Child(i))
		}
	}
}
