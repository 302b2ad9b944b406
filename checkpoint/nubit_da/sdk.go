package nubit_da

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/RiemaLabs/nubit-da-sdk"
	"github.com/RiemaLabs/nubit-da-sdk/constant"

	"github.com/RiemaLabs/charms-indexer/checkpoint"
)

// SDKUploader posts checkpoints through the Nubit SDK, paying with a gas
// coupon instead of running a DA node.
type SDKUploader struct {
	PrivateKey  string
	GasCoupon   string
	NamespaceID string
	Network     string
}

func (u *SDKUploader) Name() string {
	return "nubit"
}

func (u *SDKUploader) Upload(ctx context.Context, c *checkpoint.Checkpoint) error {
	switch u.Network {
	case "Pre-Alpha Testnet":
		sdk.SetNet(constant.PreAlphaTestNet)
	case "Testnet":
		sdk.SetNet(constant.TestNet)
	default:
		return fmt.Errorf("unknown network: %s", u.Network)
	}

	clientDA := sdk.NewNubit(sdk.WithCtx(ctx),
		sdk.WithGasCode(u.GasCoupon),
		sdk.WithPrivateKey(u.PrivateKey),
	)
	if clientDA == nil {
		return fmt.Errorf("failed to build the Nubit client")
	}

	checkpointJSON, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint to JSON: %v", err)
	}
	labels := map[string]interface{}{
		"contentType": "application/json",
	}
	if _, err := clientDA.UploadBytes(checkpointJSON, u.NamespaceID, 0, labels); err != nil {
		return fmt.Errorf("failed to upload checkpoint: %v", err)
	}
	return nil
}
