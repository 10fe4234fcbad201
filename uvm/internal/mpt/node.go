package mpt

import (
	"errors"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/internal/serialization"
	"github.com/ethereum/go-ethereum/rlp"
)

// Stored node layout: one kind byte followed by the RLP body of the node.
type nodeKind byte

const (
	leafNodeKind nodeKind = iota
	extensionNodeKind
	branchNodeKind
)

const BranchesNum = 16

// Reference is the storage key of a child node. An empty reference means no child.
type Reference []byte

func (r *Reference) IsValid() bool {
	return len(*r) != 0
}

type Node interface {
	serialization.UvmMarshaler

	// Path is the part of the key consumed between the parent and this node.
	Path() *Path
	Data() []byte
	Encode() ([]byte, error)
}

type LeafNode struct {
	KeyPath Path
	Payload []byte
}

type ExtensionNode struct {
	KeyPath Path
	NextRef Reference
}

type BranchNode struct {
	Branches [BranchesNum]Reference
	Value    []byte
}

var (
	_ Node = new(LeafNode)
	_ Node = new(ExtensionNode)
	_ Node = new(BranchNode)
)

func newLeafNode(path *Path, data []byte) *LeafNode {
	return &LeafNode{KeyPath: *path.compact(), Payload: append([]byte(nil), data...)}
}

func newExtensionNode(path *Path, next Reference) *ExtensionNode {
	return &ExtensionNode{KeyPath: *path.compact(), NextRef: next}
}

func newBranchNode(refs *[BranchesNum]Reference, value []byte) *BranchNode {
	return &BranchNode{Branches: *refs, Value: value}
}

func (n *LeafNode) Path() *Path      { return &n.KeyPath }
func (n *ExtensionNode) Path() *Path { return &n.KeyPath }
func (n *BranchNode) Path() *Path    { return nil }

func (n *LeafNode) Data() []byte      { return n.Payload }
func (n *ExtensionNode) Data() []byte { return nil }
func (n *BranchNode) Data() []byte    { return n.Value }

func (n *LeafNode) MarshalUvm() ([]byte, error)      { return rlp.EncodeToBytes(n) }
func (n *ExtensionNode) MarshalUvm() ([]byte, error) { return rlp.EncodeToBytes(n) }
func (n *BranchNode) MarshalUvm() ([]byte, error)    { return rlp.EncodeToBytes(n) }

func (n *LeafNode) Encode() ([]byte, error)      { return encodeNode(leafNodeKind, n) }
func (n *ExtensionNode) Encode() ([]byte, error) { return encodeNode(extensionNodeKind, n) }
func (n *BranchNode) Encode() ([]byte, error)    { return encodeNode(branchNodeKind, n) }

func encodeNode(kind nodeKind, n Node) ([]byte, error) {
	body, err := n.MarshalUvm()
	if err != nil {
		return nil, fmt.Errorf("failed to encode node of kind %d: %w", kind, err)
	}
	out := make([]byte, 0, len(body)+1)
	return append(append(out, byte(kind)), body...), nil
}

var errEmptyNode = errors.New("empty node data")

func DecodeNode(data []byte) (Node, error) {
	if len(data) == 0 {
		return nil, errEmptyNode
	}

	var node Node
	switch kind := nodeKind(data[0]); kind {
	case leafNodeKind:
		node = new(LeafNode)
	case extensionNodeKind:
		node = new(ExtensionNode)
	case branchNodeKind:
		node = new(BranchNode)
	default:
		return nil, fmt.Errorf("unknown node kind %d", kind)
	}
	if err := rlp.DecodeBytes(data[1:], node); err != nil {
		return nil, err
	}
	return node, nil
}
