package spaces

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/diwise/kg-publisher/pkg/grc20/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kg-publisher/spaces")

type Prober interface {
	ProbeSpace(ctx context.Context, spaceID string) (client.SpaceStatus, error)
}

type Report struct {
	Setting string
	SpaceID string
	Status  client.SpaceStatus
	Err     error
}

// Check probes every configured space. Settings without a space id are
// left out of the report.
func Check(ctx context.Context, p Prober, named [][2]string) []Report {
	reports := []Report{}

	for _, n := range named {
		setting, spaceID := n[0], n[1]
		if spaceID == "" {
			continue
		}

		status, err := p.ProbeSpace(ctx, spaceID)
		reports = append(reports, Report{Setting: setting, SpaceID: spaceID, Status: status, Err: err})
	}

	return reports
}

type CalldataRequester interface {
	CreateSpaceCalldata(ctx context.Context, name string) (*client.Calldata, error)
}

type Transactor interface {
	Send(ctx context.Context, to, data string) (string, error)
	WaitForReceipt(ctx context.Context, hash string) (*types.Receipt, error)
}

type Created struct {
	SpaceID string
	TxHash  string
	Block   uint64
}

// Create deploys a new space and waits for the deployment to be mined
func Create(ctx context.Context, api CalldataRequester, tx Transactor, name string) (Created, error) {
	var err error

	ctx, span := tracer.Start(ctx, "create-space", trace.WithAttributes(attribute.String("name", name)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	cd, err := api.CreateSpaceCalldata(ctx, name)
	if err != nil {
		return Created{}, err
	}

	hash, err := tx.Send(ctx, cd.To, cd.Data)
	if err != nil {
		return Created{}, err
	}

	log.Info("space deployment submitted", "name", name, "tx_hash", hash)

	receipt, err := tx.WaitForReceipt(ctx, hash)
	if err != nil {
		return Created{TxHash: hash}, err
	}

	spaceID, err := SpaceIDFromTxHash(hash)
	if err != nil {
		return Created{TxHash: hash}, err
	}

	created := Created{SpaceID: spaceID, TxHash: hash}
	if receipt.BlockNumber != nil {
		created.Block = receipt.BlockNumber.Uint64()
	}

	log.Info("space created", "name", name, "space_id", spaceID, "block", created.Block)

	return created, nil
}

// SpaceIDFromTxHash derives the id of a space from the hash of the
// transaction that deployed it
func SpaceIDFromTxHash(hash string) (string, error) {
	if !strings.HasPrefix(hash, "0x") || len(hash) < 42 {
		return "", fmt.Errorf("transaction hash %q is too short to derive a space id from", hash)
	}
	return "0x" + hash[2:42], nil
}

// PersistSpaceID sets key to spaceID in the env file at path, keeping any
// other settings in it. The file is created if it does not exist.
func PersistSpaceID(path, key, spaceID string) error {
	if key == "" {
		return fmt.Errorf("no key to store space id %s under", spaceID)
	}

	settings, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		settings = map[string]string{}
	}

	settings[key] = spaceID

	if err = godotenv.Write(settings, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
