package clickhouse

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/mock/gomock"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/holiman/uint256"
)

func delta(seq uint64, key string, height uint64, fork byte, in, out uint64, sign int8) model.Delta {
	return model.Delta{
		Seq:   seq,
		Key:   key,
		Block: model.BlockRef{Height: height, Hash: common.Hash{0: fork, 31: byte(height)}},
		In:    *uint256.NewInt(in),
		Out:   *uint256.NewInt(out),
		Sign:  sign,
	}
}

func (s *RepositorySuite) TestInsertDeltas() {
	s.metrics.EXPECT().Observe("insert_deltas", gomock.Nil(), gomock.Any()).Times(1)

	s.Require().NoError(s.repo.InsertDeltas(s.testCtx, []model.Delta{
		delta(1, model.AggregateKey, 1, 1, 100, 0, 1),
		delta(2, model.AggregateKey, 2, 1, 0, 40, 1),
	}))
	s.Equal(uint64(2), s.countRows("netflow_deltas"))
}

func (s *RepositorySuite) TestNetflowAtCancelsRevertedBlocks() {
	s.metrics.EXPECT().Observe("insert_deltas", gomock.Nil(), gomock.Any()).Times(1)
	s.metrics.EXPECT().Observe("netflow_at", gomock.Nil(), gomock.Any()).Times(3)

	huge := new(uint256.Int).SetAllOne()
	s.Require().NoError(s.repo.InsertDeltas(s.testCtx, []model.Delta{
		delta(1, model.AggregateKey, 1, 1, 100, 0, 1),
		delta(2, model.AggregateKey, 2, 1, 0, 40, 1),
		// block 2 replaced by a sibling without transfers
		delta(3, model.AggregateKey, 2, 1, 0, 40, -1),
		delta(4, model.AggregateKey, 3, 2, 5, 0, 1),
		{Seq: 1, Key: "0xf977814e90da44bfa03b6295a0616a897441acec", Block: model.BlockRef{Height: 1}, In: *huge, Sign: 1},
	}))

	at1, err := s.repo.NetflowAt(s.testCtx, model.AggregateKey, 1)
	s.Require().NoError(err)
	s.Equal("100", at1.Netflow().String())

	at3, err := s.repo.NetflowAt(s.testCtx, model.AggregateKey, 3)
	s.Require().NoError(err)
	s.Equal("105", at3.In.String())
	s.Equal("0", at3.Out.String())

	wide, err := s.repo.NetflowAt(s.testCtx, "0xf977814e90da44bfa03b6295a0616a897441acec", 3)
	s.Require().NoError(err)
	s.Equal(huge.Dec(), wide.In.String())
}

func (s *RepositorySuite) TestNetflowAtCountsRedeliveredBatchOnce() {
	s.metrics.EXPECT().Observe("insert_deltas", gomock.Nil(), gomock.Any()).Times(2)
	s.metrics.EXPECT().Observe("netflow_at", gomock.Nil(), gomock.Any()).Times(1)

	batch := []model.Delta{
		delta(1, model.AggregateKey, 1, 1, 100, 0, 1),
		delta(2, model.AggregateKey, 2, 1, 0, 40, 1),
	}
	s.Require().NoError(s.repo.InsertDeltas(s.testCtx, batch))
	s.Require().NoError(s.repo.InsertDeltas(s.testCtx, batch))

	at2, err := s.repo.NetflowAt(s.testCtx, model.AggregateKey, 2)
	s.Require().NoError(err)
	s.Equal("60", at2.Netflow().String())
}
