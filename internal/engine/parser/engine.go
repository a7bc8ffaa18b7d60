package parser

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
)

// NodeHandler processes a node. Returning true stops the walker from
// descending into the node's children.
type NodeHandler func(ctx *ExtractionContext, node *sitter.Node) bool

// ExtractionContext carries the chunk being parsed and the references found
// so far.
type ExtractionContext struct {
	Source     []byte
	LineOffset int
	References []ModuleReference
}

// ExtractorEngine walks the syntax tree and dispatches node handlers by kind.
type ExtractorEngine struct {
	handlers map[string]NodeHandler
}

func NewExtractorEngine(handlers map[string]NodeHandler) *ExtractorEngine {
	return &ExtractorEngine{handlers: handlers}
}

func (e *ExtractorEngine) Walk(ctx *ExtractionContext, node *sitter.Node) {
	if node == nil {
		return
	}

	if handler, ok := e.handlers[node.Kind()]; ok {
		if handler(ctx, node) {
			return
		}
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		e.Walk(ctx, node.Child(i))
	}
}

func (c *ExtractionContext) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return string(c.Source[node.StartByte():node.EndByte()])
}

// Line returns the 1-based source line of node within the original module.
func (c *ExtractionContext) Line(node *sitter.Node) int {
	return c.LineOffset + int(node.StartPosition().Row) + 1
}

func (c *ExtractionContext) add(ref ModuleReference) {
	c.References = append(c.References, ref)
}
