package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// historyScanWindow bounds the backward block scan. On the private network
// there is no indexer; a bounded full scan of recent blocks is acceptable.
const historyScanWindow uint64 = 1000

type TransferDirection string

const (
	DirectionSend    TransferDirection = "send"
	DirectionReceive TransferDirection = "receive"
)

// TransactionRecord is one historical transfer touching an address.
type TransactionRecord struct {
	Hash          common.Hash
	From          common.Address
	To            *common.Address
	Value         *big.Int
	GasUsed       uint64
	BlockNumber   uint64
	Timestamp     uint64
	Succeeded     bool
	Direction     TransferDirection
	Confirmations uint64
}

// History scans recent blocks for transactions sent by or delivered to the
// address, newest first. Blocks that cannot be loaded are skipped rather than
// failing the whole scan.
func (g *Gateway) History(ctx context.Context, account common.Address, startBlock uint64) ([]TransactionRecord, error) {
	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: head block: %w", err)
	}

	from := startBlock
	if head > historyScanWindow && head-historyScanWindow > from {
		from = head - historyScanWindow
	}

	signer := types.LatestSignerForChainID(g.cfg.ChainID)
	var out []TransactionRecord
	for n := from; n <= head; n++ {
		block, err := g.backend.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil || block == nil {
			continue
		}
		for _, tx := range block.Transactions() {
			sender, err := types.Sender(signer, tx)
			if err != nil {
				continue
			}
			to := tx.To()
			sent := sender == account
			received := to != nil && *to == account
			if !sent && !received {
				continue
			}

			receipt, err := g.backend.TransactionReceipt(ctx, tx.Hash())
			if err != nil {
				continue
			}

			direction := DirectionReceive
			if sent {
				direction = DirectionSend
			}
			out = append(out, TransactionRecord{
				Hash:          tx.Hash(),
				From:          sender,
				To:            to,
				Value:         new(big.Int).Set(tx.Value()),
				GasUsed:       receipt.GasUsed,
				BlockNumber:   n,
				Timestamp:     block.Time(),
				Succeeded:     receipt.Status == types.ReceiptStatusSuccessful,
				Direction:     direction,
				Confirmations: head - n,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}
