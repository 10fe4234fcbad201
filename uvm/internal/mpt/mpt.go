package mpt

import (
	"errors"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/serialization"
)

// Keys longer than maxRawKeyLen are replaced by their poseidon hash.
const maxRawKeyLen = 32

func keyPath(key []byte) *Path {
	if len(key) > maxRawKeyLen {
		key = common.PoseidonHash(key).Bytes()
	}
	return newPath(key, 0)
}

// Reader looks up keys of the trie rooted at root. Nodes are content addressed,
// so any root hash committed earlier selects a complete snapshot.
type Reader struct {
	getter Getter
	root   Reference
}

type MerklePatriciaTrie struct {
	*Reader

	setter Setter
}

func NewReader(getter Getter) *Reader {
	return &Reader{getter: getter}
}

func NewDbReader(tx db.RoTx, name db.TableName) *Reader {
	return NewReader(NewDbGetter(tx, name))
}

func NewMPT(setter Setter, reader *Reader) *MerklePatriciaTrie {
	return &MerklePatriciaTrie{reader, setter}
}

func NewDbMPT(tx db.RwTx, name db.TableName) *MerklePatriciaTrie {
	return NewMPT(NewDbSetter(tx, name), NewDbReader(tx, name))
}

// NewInMemoryMPT returns a trie that reads nodes through getter and keeps new nodes in memory.
func NewInMemoryMPT(getter Getter) *MerklePatriciaTrie {
	overlay := NewOverlay(getter)
	return NewMPT(overlay, NewReader(overlay))
}

func (m *Reader) SetRootHash(root common.Hash) {
	if root.Empty() {
		m.root = nil
		return
	}
	m.root = root.Bytes()
}

func (m *Reader) RootHash() common.Hash {
	if !m.root.IsValid() {
		return common.EmptyHash
	}
	return common.BytesToHash(m.root)
}

func (m *Reader) Get(key []byte) ([]byte, error) {
	ref, path := m.root, keyPath(key)
	for ref.IsValid() {
		node, err := m.getNode(ref)
		if err != nil {
			return nil, err
		}
		if path.Empty() {
			return node.Data(), nil
		}

		switch n := node.(type) {
		case *LeafNode:
			if !n.Path().Equal(path) {
				return nil, db.ErrKeyNotFound
			}
			return n.Data(), nil
		case *ExtensionNode:
			if !path.StartsWith(n.Path()) {
				return nil, db.ErrKeyNotFound
			}
			ref = n.NextRef
			path.Consume(n.Path().Size())
		case *BranchNode:
			ref = n.Branches[path.At(0)]
			path.Consume(1)
		default:
			return nil, ErrInvalidAction
		}
	}
	return nil, db.ErrKeyNotFound
}

func (m *Reader) getNode(ref Reference) (Node, error) {
	data, err := m.getter.Get(ref)
	if err != nil {
		return nil, err
	}
	return DecodeNode(data)
}

func GetEntity[
	T interface {
		~*S
		serialization.UvmUnmarshaler
	},
	S any,
](root *Reader, entityKey []byte) (*S, error) {
	data, err := root.Get(entityKey)
	if err != nil {
		return nil, err
	}

	var entity S
	return &entity, T(&entity).UnmarshalUvm(data)
}

func SetEntity[T serialization.UvmMarshaler](m *MerklePatriciaTrie, entityKey []byte, entity T) error {
	data, err := entity.MarshalUvm()
	if err != nil {
		return err
	}
	return m.Set(entityKey, data)
}

func (m *MerklePatriciaTrie) Set(key []byte, value []byte) error {
	root, err := m.insert(m.root, keyPath(key), value)
	if err != nil {
		return err
	}
	m.root = root
	return nil
}

// Delete removes key. Deleting a missing key reports db.ErrKeyNotFound.
func (m *MerklePatriciaTrie) Delete(key []byte) error {
	if !m.root.IsValid() {
		return nil
	}
	res, err := m.remove(m.root, keyPath(key))
	if err != nil {
		return err
	}

	switch res.kind {
	case subtreeEmpty:
		m.root = nil
	case subtreeReplaced, subtreeCollapsed:
		m.root = res.ref
	default:
		return ErrInvalidAction
	}
	return nil
}

func (m *MerklePatriciaTrie) storeNode(node Node) (Reference, error) {
	data, err := node.Encode()
	if err != nil {
		return nil, err
	}

	// Nodes are never inlined: every reference, the root included, is a node hash.
	key := common.PoseidonHash(data).Bytes()
	if err := m.setter.Set(key, data); err != nil {
		return nil, err
	}
	return key, nil
}

// withPrefix puts an extension with a non-empty prefix in front of ref.
func (m *MerklePatriciaTrie) withPrefix(prefix *Path, ref Reference) (Reference, error) {
	if prefix.Empty() {
		return ref, nil
	}
	return m.storeNode(newExtensionNode(prefix, ref))
}

func (m *MerklePatriciaTrie) insert(ref Reference, path *Path, value []byte) (Reference, error) {
	if !ref.IsValid() {
		return m.storeNode(newLeafNode(path, value))
	}

	node, err := m.getNode(ref)
	if errors.Is(err, db.ErrKeyNotFound) {
		node, err = newLeafNode(path, []byte{}), nil
	}
	if err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case *LeafNode:
		if n.Path().Equal(path) {
			return m.storeNode(newLeafNode(n.Path(), value))
		}

		prefix := path.CommonPrefix(n.Path())
		path.Consume(prefix.Size())
		n.Path().Consume(prefix.Size())
		branch, err := m.branchOfTwo(path, value, n.Path(), n.Data())
		if err != nil {
			return nil, err
		}
		return m.withPrefix(prefix, branch)

	case *ExtensionNode:
		if path.StartsWith(n.Path()) {
			next, err := m.insert(n.NextRef, path.Consume(n.Path().Size()), value)
			if err != nil {
				return nil, err
			}
			return m.storeNode(newExtensionNode(n.Path(), next))
		}

		prefix := path.CommonPrefix(n.Path())
		path.Consume(prefix.Size())
		n.Path().Consume(prefix.Size())

		var branches [BranchesNum]Reference
		var branchValue []byte
		if path.Empty() {
			branchValue = value
		}
		if err := m.attachLeaf(&branches, path, value); err != nil {
			return nil, err
		}
		if err := m.attachExtension(&branches, n.Path(), n.NextRef); err != nil {
			return nil, err
		}
		branch, err := m.storeNode(newBranchNode(&branches, branchValue))
		if err != nil {
			return nil, err
		}
		return m.withPrefix(prefix, branch)

	case *BranchNode:
		if path.Empty() {
			return m.storeNode(newBranchNode(&n.Branches, value))
		}
		idx := path.At(0)
		child, err := m.insert(n.Branches[idx], path.Consume(1), value)
		if err != nil {
			return nil, err
		}
		n.Branches[idx] = child
		return m.storeNode(n)
	}
	return nil, ErrInvalidAction
}

// branchOfTwo stores a branch holding two diverging keys. A key with an empty rest becomes the branch value.
func (m *MerklePatriciaTrie) branchOfTwo(lhs *Path, lhsValue []byte, rhs *Path, rhsValue []byte) (Reference, error) {
	var branches [BranchesNum]Reference
	var value []byte
	switch {
	case lhs.Empty() && rhs.Empty():
		return nil, ErrInvalidAction
	case lhs.Empty():
		value = lhsValue
	case rhs.Empty():
		value = rhsValue
	}
	if err := m.attachLeaf(&branches, lhs, lhsValue); err != nil {
		return nil, err
	}
	if err := m.attachLeaf(&branches, rhs, rhsValue); err != nil {
		return nil, err
	}
	return m.storeNode(newBranchNode(&branches, value))
}

func (m *MerklePatriciaTrie) attachLeaf(branches *[BranchesNum]Reference, path *Path, value []byte) error {
	if path.Empty() {
		return nil
	}
	idx := path.At(0)
	ref, err := m.storeNode(newLeafNode(path.Consume(1), value))
	if err != nil {
		return err
	}
	branches[idx] = ref
	return nil
}

// attachExtension hangs next under the first nibble of path, through an extension for the remaining nibbles.
func (m *MerklePatriciaTrie) attachExtension(branches *[BranchesNum]Reference, path *Path, next Reference) error {
	switch path.Size() {
	case 0:
		return ErrInvalidAction
	case 1:
		branches[path.At(0)] = next
		return nil
	}
	idx := path.At(0)
	ref, err := m.storeNode(newExtensionNode(path.Consume(1), next))
	if err != nil {
		return err
	}
	branches[idx] = ref
	return nil
}

type subtreeChange int

const (
	subtreeUnknown subtreeChange = iota
	// the subtree holds no keys anymore
	subtreeEmpty
	// the subtree root moved to ref
	subtreeReplaced
	// a branch was left with a single entry and was rebuilt as the node at ref,
	// the parent has to merge its own path with it
	subtreeCollapsed
)

type removal struct {
	kind subtreeChange
	path Path
	ref  Reference
}

func replacedBy(ref Reference) removal {
	return removal{kind: subtreeReplaced, ref: ref}
}

func (m *MerklePatriciaTrie) remove(ref Reference, path *Path) (removal, error) {
	node, err := m.getNode(ref)
	if err != nil {
		return removal{}, err
	}

	switch n := node.(type) {
	case *LeafNode:
		if !path.Equal(n.Path()) {
			return removal{}, db.ErrKeyNotFound
		}
		return removal{kind: subtreeEmpty}, nil
	case *ExtensionNode:
		return m.removeUnderExtension(n, path)
	case *BranchNode:
		return m.removeUnderBranch(n, path)
	}
	return removal{}, ErrInvalidAction
}

func (m *MerklePatriciaTrie) removeUnderExtension(n *ExtensionNode, path *Path) (removal, error) {
	if !path.StartsWith(n.Path()) {
		return removal{}, db.ErrKeyNotFound
	}
	res, err := m.remove(n.NextRef, path.Consume(n.Path().Size()))
	if err != nil {
		return removal{}, err
	}

	switch res.kind {
	case subtreeEmpty:
		return res, nil
	case subtreeReplaced:
		ref, err := m.storeNode(newExtensionNode(n.Path(), res.ref))
		if err != nil {
			return removal{}, err
		}
		return replacedBy(ref), nil
	case subtreeCollapsed:
		child, err := m.getNode(res.ref)
		if err != nil {
			return removal{}, err
		}

		var merged Node
		switch child := child.(type) {
		case *LeafNode:
			merged = newLeafNode(n.Path().Combine(child.Path()), child.Data())
		case *ExtensionNode:
			merged = newExtensionNode(n.Path().Combine(child.Path()), child.NextRef)
		case *BranchNode:
			merged = newExtensionNode(n.Path().Combine(&res.path), res.ref)
		default:
			return removal{}, ErrInvalidAction
		}
		ref, err := m.storeNode(merged)
		if err != nil {
			return removal{}, err
		}
		return replacedBy(ref), nil
	}
	return removal{}, ErrInvalidAction
}

func (m *MerklePatriciaTrie) removeUnderBranch(n *BranchNode, path *Path) (removal, error) {
	var res removal
	var idx int
	switch {
	case path.Empty() && len(n.Value) == 0:
		return removal{}, db.ErrKeyNotFound
	case path.Empty():
		n.Value = []byte{}
		res.kind = subtreeEmpty
	default:
		idx = path.At(0)
		if !n.Branches[idx].IsValid() {
			return removal{}, db.ErrKeyNotFound
		}
		var err error
		if res, err = m.remove(n.Branches[idx], path.Consume(1)); err != nil {
			return removal{}, err
		}
		n.Branches[idx] = []byte{}
	}

	switch res.kind {
	case subtreeEmpty:
		children := 0
		for _, ref := range n.Branches {
			if ref.IsValid() {
				children++
			}
		}

		switch {
		case children == 0 && len(n.Data()) == 0:
			return removal{kind: subtreeEmpty}, nil
		case children == 0:
			empty := newPath([]byte{}, 0)
			ref, err := m.storeNode(newLeafNode(empty, n.Data()))
			if err != nil {
				return removal{}, err
			}
			return removal{kind: subtreeCollapsed, path: *empty, ref: ref}, nil
		case children == 1 && len(n.Data()) == 0:
			return m.collapse(&n.Branches)
		}
	case subtreeReplaced, subtreeCollapsed:
		n.Branches[idx] = res.ref
	default:
		return removal{}, ErrInvalidAction
	}

	ref, err := m.storeNode(n)
	if err != nil {
		return removal{}, err
	}
	return replacedBy(ref), nil
}

// collapse rebuilds a branch with a single child and no value as that child prefixed with its nibble.
func (m *MerklePatriciaTrie) collapse(branches *[BranchesNum]Reference) (removal, error) {
	idx := 0
	for i, ref := range branches {
		if ref.IsValid() {
			idx = i
			break
		}
	}

	nibble := newPath([]byte{byte(idx)}, 1)
	child, err := m.getNode(branches[idx])
	if err != nil {
		return removal{}, err
	}

	var path *Path
	var node Node
	switch child := child.(type) {
	case *LeafNode:
		path = nibble.Combine(child.Path())
		node = newLeafNode(path, child.Data())
	case *ExtensionNode:
		path = nibble.Combine(child.Path())
		node = newExtensionNode(path, child.NextRef)
	case *BranchNode:
		path = nibble
		node = newExtensionNode(path, branches[idx])
	default:
		return removal{}, ErrInvalidAction
	}
	ref, err := m.storeNode(node)
	if err != nil {
		return removal{}, err
	}
	return removal{kind: subtreeCollapsed, path: *path, ref: ref}, nil
}
