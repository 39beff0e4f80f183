package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory btree.Store used to test the node/split/delete
// algorithms independent of any on-disk extent layout.
type memStore struct {
	nodes [][]byte
}

func newMemStore(initial int) *memStore {
	s := &memStore{}
	for i := 0; i < initial; i++ {
		s.nodes = append(s.nodes, make([]byte, NodeSize))
	}
	return s
}

func (s *memStore) NodeCount() int { return len(s.nodes) }

func (s *memStore) ReadNode(n int, buf []byte) error {
	if n < 0 || n >= len(s.nodes) {
		return fmt.Errorf("node %d out of range", n)
	}
	copy(buf, s.nodes[n])
	return nil
}

func (s *memStore) WriteNode(n int, buf []byte) error {
	if n < 0 || n >= len(s.nodes) {
		return fmt.Errorf("node %d out of range", n)
	}
	copy(s.nodes[n], buf)
	return nil
}

func (s *memStore) GrowBy(n int) error {
	for i := 0; i < n; i++ {
		s.nodes = append(s.nodes, make([]byte, NodeSize))
	}
	return nil
}

// byteCompare is a simple whole-key lexicographic comparator for tests.
func byteCompare(a, b []byte) int { return bytes.Compare(a, b) }

func uintKeyRecord(n uint32, payload string) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, n)
	return BuildRecord(key, []byte(payload))
}

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	store := newMemStore(0)
	tree := New(store, byteCompare)
	require.NoError(t, tree.Format(4))
	return tree
}

func TestEmptyTreeHasNoRoot(t *testing.T) {
	tree := newTestTree(t)
	depth, err := tree.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
	_, found, err := tree.Search(keyBytes(1))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInsertSearchSingleRecord(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert(uintKeyRecord(42, "hello")))
	rec, found, err := tree.Search(keyBytes(42))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", string(RecordValue(rec)))
	depth, _ := tree.Depth()
	assert.Equal(t, 1, depth)
}

func keyBytes(n uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, n)
	return key
}

func TestInsertManyForcesSplitAndIndexLevel(t *testing.T) {
	tree := newTestTree(t)
	const n = 300
	for i := uint32(0); i < n; i++ {
		require.NoError(t, tree.Insert(uintKeyRecord(i, fmt.Sprintf("payload-%04d", i))))
	}
	depth, err := tree.Depth()
	require.NoError(t, err)
	assert.Greater(t, depth, 1, "inserting enough records must create an index level")

	recs, err := tree.NumRecords()
	require.NoError(t, err)
	assert.Equal(t, n, recs)

	for i := uint32(0); i < n; i++ {
		rec, found, err := tree.Search(keyBytes(i))
		require.NoError(t, err)
		require.True(t, found, "key %d must be findable", i)
		assert.Equal(t, fmt.Sprintf("payload-%04d", i), string(RecordValue(rec)))
	}

	scanned, err := tree.Scan()
	require.NoError(t, err)
	require.Len(t, scanned, n)
	for i, rec := range scanned {
		assert.Equal(t, keyBytes(uint32(i)), RecordKey(rec), "scan must return ascending key order")
	}
}

func TestInsertOutOfOrderStillSortsOnScan(t *testing.T) {
	tree := newTestTree(t)
	order := []uint32{50, 10, 90, 30, 70, 20, 80, 40, 60, 0, 100}
	for _, k := range order {
		require.NoError(t, tree.Insert(uintKeyRecord(k, "")))
	}
	scanned, err := tree.Scan()
	require.NoError(t, err)
	require.Len(t, scanned, len(order))
	for i := 1; i < len(scanned); i++ {
		assert.True(t, byteCompare(RecordKey(scanned[i-1]), RecordKey(scanned[i])) < 0)
	}
}

func TestDuplicateInsertRejected(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert(uintKeyRecord(5, "a")))
	err := tree.Insert(uintKeyRecord(5, "b"))
	assert.Error(t, err)
}

func TestDeleteRemovesAlternateKeys(t *testing.T) {
	tree := newTestTree(t)
	const n = 300
	for i := uint32(0); i < n; i++ {
		require.NoError(t, tree.Insert(uintKeyRecord(i, "")))
	}
	for i := uint32(0); i < n; i += 2 {
		require.NoError(t, tree.Delete(keyBytes(i)))
	}
	recs, err := tree.NumRecords()
	require.NoError(t, err)
	assert.Equal(t, n/2, recs)

	scanned, err := tree.Scan()
	require.NoError(t, err)
	require.Len(t, scanned, n/2)
	for i, rec := range scanned {
		want := uint32(i)*2 + 1
		assert.Equal(t, keyBytes(want), RecordKey(rec))
	}

	for i := uint32(0); i < n; i += 2 {
		_, found, err := tree.Search(keyBytes(i))
		require.NoError(t, err)
		assert.False(t, found)
	}
	for i := uint32(1); i < n; i += 2 {
		_, found, err := tree.Search(keyBytes(i))
		require.NoError(t, err)
		assert.True(t, found)
	}
}

func TestDeleteAllEmptiesTree(t *testing.T) {
	tree := newTestTree(t)
	for i := uint32(0); i < 50; i++ {
		require.NoError(t, tree.Insert(uintKeyRecord(i, "")))
	}
	for i := uint32(0); i < 50; i++ {
		require.NoError(t, tree.Delete(keyBytes(i)))
	}
	depth, err := tree.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
	recs, err := tree.NumRecords()
	require.NoError(t, err)
	assert.Equal(t, 0, recs)
}

func TestEnsureSpacePreGrowsStore(t *testing.T) {
	store := newMemStore(0)
	tree := New(store, byteCompare)
	require.NoError(t, tree.Format(4))
	require.NoError(t, tree.EnsureSpace(100))
	countAfterEnsure := store.NodeCount()
	assert.Greater(t, countAfterEnsure, 1)
	for i := uint32(0); i < 80; i++ {
		require.NoError(t, tree.Insert(uintKeyRecord(i, "")))
	}
}
