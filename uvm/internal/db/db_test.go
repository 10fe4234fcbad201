package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type SuiteBadgerDb struct {
	suite.Suite

	ctx context.Context
	db  DB
}

func (s *SuiteBadgerDb) SetupSuite() {
	s.ctx = context.Background()
}

func (s *SuiteBadgerDb) SetupTest() {
	var err error
	s.db, err = NewBadgerDb(s.T().TempDir())
	s.Require().NoError(err)
}

func (s *SuiteBadgerDb) TearDownTest() {
	s.db.Close()
}

func (s *SuiteBadgerDb) TestTables() {
	s.Run("put", func() {
		tx, err := s.db.CreateRwTx(s.ctx)
		s.Require().NoError(err)
		defer tx.Rollback()

		s.Require().NoError(tx.Put("tbl-1", []byte("foo"), []byte("bar")))
		s.Require().NoError(tx.Commit())
	})

	s.Run("exist", func() {
		tx, err := s.db.CreateRoTx(s.ctx)
		s.Require().NoError(err)
		defer tx.Rollback()

		has, err := tx.Exists("tbl-1", []byte("foo"))
		s.Require().NoError(err)
		s.True(has, "Key 'foo' should be present in tbl-1")

		has, err = tx.Exists("tbl-2", []byte("foo"))
		s.Require().NoError(err)
		s.False(has, "Key 'foo' should not be present in tbl-2")
	})
}

func (s *SuiteBadgerDb) TestTablesName() {
	tx, err := s.db.CreateRwTx(s.ctx)
	s.Require().NoError(err)
	defer tx.Rollback()

	s.Require().NoError(tx.Put("tbl", []byte("HelloWorld"), []byte("bar1")))
	s.Require().NoError(tx.Put("tblHello", []byte("World"), []byte("bar2")))

	val1, err := tx.Get("tbl", []byte("HelloWorld"))
	s.Require().NoError(err)
	s.Equal([]byte("bar1"), val1)

	val2, err := tx.Get("tblHello", []byte("World"))
	s.Require().NoError(err)
	s.Equal([]byte("bar2"), val2)
}

func (s *SuiteBadgerDb) TestTransactionIsolation() {
	tx, err := s.db.CreateRwTx(s.ctx)
	s.Require().NoError(err)
	defer tx.Rollback()

	tx2, err := s.db.CreateRwTx(s.ctx)
	s.Require().NoError(err)
	defer tx2.Rollback()

	s.Require().NoError(tx.Put("tbl", []byte("foo"), []byte("bar")))

	val, err := tx.Get("tbl", []byte("foo"))
	s.Require().NoError(err)
	s.Equal([]byte("bar"), val)

	_, err = tx.Get("tbl", []byte("bar"))
	s.Require().ErrorIs(err, ErrKeyNotFound)

	// Parallel transactions don't see changes made by the first one
	has, err := tx2.Exists("tbl", []byte("foo"))
	s.Require().NoError(err)
	s.False(has)

	s.Require().NoError(tx.Commit())

	tx3, err := s.db.CreateRoTx(s.ctx)
	s.Require().NoError(err)
	defer tx3.Rollback()

	has, err = tx3.Exists("tbl", []byte("foo"))
	s.Require().NoError(err)
	s.True(has)
}

func (s *SuiteBadgerDb) TestRange() {
	tx, err := s.db.CreateRwTx(s.ctx)
	s.Require().NoError(err)
	defer tx.Rollback()

	for i := range uint64(5) {
		s.Require().NoError(tx.Put("heights", HeightKey(i), []byte{byte(i)}))
	}
	s.Require().NoError(tx.Put("other", HeightKey(2), []byte{42}))

	it, err := tx.Range("heights", HeightKey(1), HeightKey(3))
	s.Require().NoError(err)
	defer it.Close()

	var values []byte
	for it.HasNext() {
		key, value, err := it.Next()
		s.Require().NoError(err)
		s.Len(key, 8)
		values = append(values, value...)
	}
	s.Equal([]byte{1, 2, 3}, values)
}

func (s *SuiteBadgerDb) TestVersionInfo() {
	tx, err := s.db.CreateRwTx(s.ctx)
	s.Require().NoError(err)
	defer tx.Rollback()

	outdated, err := IsVersionOutdated(tx)
	s.Require().NoError(err)
	s.False(outdated)

	s.Require().NoError(WriteVersionInfo(tx, &VersionInfo{Version: SchemeVersion + 1}))
	outdated, err = IsVersionOutdated(tx)
	s.Require().NoError(err)
	s.True(outdated)

	s.Require().NoError(WriteVersionInfo(tx, &VersionInfo{Version: SchemeVersion}))
	outdated, err = IsVersionOutdated(tx)
	s.Require().NoError(err)
	s.False(outdated)
}

func TestSuiteBadgerDb(t *testing.T) {
	t.Parallel()

	suite.Run(t, new(SuiteBadgerDb))
}
