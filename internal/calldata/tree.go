package calldata

import (
	"github.com/ppiankov/delayguard/internal/model"
)

// Node is a decoded call. Batch is non-nil only for multiSend calls.
type Node struct {
	Call  model.Call `json:"call"`
	Batch []*Node    `json:"batch,omitempty"`
}

// Tree decodes call and every nested multiSend below it, within limits.
func Tree(call model.Call, limits Limits) (*Node, error) {
	if limits.MaxPayloadBytes > 0 && len(call.Data) > limits.MaxPayloadBytes {
		return nil, model.ErrPayloadTooLarge
	}
	return tree(call, limits, 0)
}

func tree(call model.Call, limits Limits, depth int) (*Node, error) {
	n := &Node{Call: call}
	if !IsMultiSend(call.Data) {
		return n, nil
	}
	if limits.MaxDepth > 0 && depth >= limits.MaxDepth {
		return nil, model.ErrBatchTooDeep
	}
	calls, err := DecodeMultiSend(call.Data, limits.MaxCalls)
	if err != nil {
		return nil, err
	}
	n.Batch = make([]*Node, 0, len(calls))
	for _, c := range calls {
		child, err := tree(c, limits, depth+1)
		if err != nil {
			return nil, err
		}
		n.Batch = append(n.Batch, child)
	}
	return n, nil
}

// Walk visits n and its descendants depth-first.
func (n *Node) Walk(fn func(node *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(node *Node, depth int), depth int) {
	fn(n, depth)
	for _, c := range n.Batch {
		c.walk(fn, depth+1)
	}
}
