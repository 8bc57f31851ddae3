package publisher

import (
	"context"
	"fmt"

	"github.com/diwise/kg-publisher/pkg/grc20/client"
	"github.com/ethereum/go-ethereum/core/types"
)

type EditAPI interface {
	PublishEdit(ctx context.Context, edit client.Edit) (string, error)
	EditCalldata(ctx context.Context, spaceID, cid string) (*client.Calldata, error)
}

type Transactor interface {
	Address() string
	Send(ctx context.Context, to, data string) (string, error)
	WaitForReceipt(ctx context.Context, hash string) (*types.Receipt, error)
}

// NewSubmitter returns a BatchSubmitter that publishes each batch as an edit,
// resolves the calldata for it and sends the transaction with tx
func NewSubmitter(api EditAPI, tx Transactor) BatchSubmitter {
	return &submitter{api: api, tx: tx}
}

type submitter struct {
	api EditAPI
	tx  Transactor
}

func EditName(b Batch) string {
	return fmt.Sprintf("Batch %d of %d (%d operations)", b.Index+1, b.Total, len(b.Ops))
}

func (s *submitter) Submit(ctx context.Context, spaceID string, b Batch) (Submission, error) {
	cid, err := s.api.PublishEdit(ctx, client.Edit{
		Name:   EditName(b),
		Author: s.tx.Address(),
		Ops:    b.Ops,
	})
	if err != nil {
		return Submission{}, err
	}

	cd, err := s.api.EditCalldata(ctx, spaceID, cid)
	if err != nil {
		return Submission{CID: cid}, err
	}

	hash, err := s.tx.Send(ctx, cd.To, cd.Data)
	if err != nil {
		return Submission{CID: cid}, err
	}

	return Submission{CID: cid, TxHash: hash}, nil
}

func (s *submitter) Confirm(ctx context.Context, txHash string) (uint64, error) {
	receipt, err := s.tx.WaitForReceipt(ctx, txHash)
	if err != nil {
		return 0, err
	}

	if receipt.BlockNumber == nil {
		return 0, nil
	}
	return receipt.BlockNumber.Uint64(), nil
}
