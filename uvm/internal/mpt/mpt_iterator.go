package mpt

import (
	"iter"
)

// Iterate yields all key-value pairs in key order. Keys longer than 32 bytes are yielded hashed.
// Iteration stops silently on a storage error; use IterateErr to observe it.
func (m *Reader) Iterate() iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		_ = m.walk(m.root, newPath(nil, 0), yield)
	}
}

// IterateErr walks the trie like Iterate and reports the first storage error.
func (m *Reader) IterateErr(fn func(key, value []byte) error) error {
	var fnErr error
	walkErr := m.walk(m.root, newPath(nil, 0), func(k, v []byte) bool {
		fnErr = fn(k, v)
		return fnErr == nil
	})
	if fnErr != nil {
		return fnErr
	}
	return walkErr
}

func (m *Reader) walk(ref Reference, prefix *Path, yield func([]byte, []byte) bool) error {
	if !ref.IsValid() {
		return nil
	}
	node, err := m.getNode(ref)
	if err != nil {
		return err
	}

	switch node := node.(type) {
	case *LeafNode:
		full := prefix.Combine(node.Path())
		if !yield(full.Bytes(), node.Data()) {
			return errStopIteration
		}
	case *ExtensionNode:
		return m.walk(node.NextRef, prefix.Combine(node.Path()), yield)
	case *BranchNode:
		if len(node.Value) != 0 {
			if !yield(prefix.Bytes(), node.Value) {
				return errStopIteration
			}
		}
		for idx, branch := range node.Branches {
			if !branch.IsValid() {
				continue
			}
			nibble := newPath([]byte{byte(idx)}, 1)
			if err := m.walk(branch, prefix.Combine(nibble), yield); err != nil {
				return err
			}
		}
	}
	return nil
}
