package pxstore

import (
	"context"
	"fmt"

	"github.com/golang/snappy"
	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/puzpuzpuz/xsync/v4"
)

// UserCode is the decompressed bytecode of one side of an application.
// Executing it is the job of the chain worker, not of this package.
type UserCode struct {
	VMRuntime pxchain.VMRuntime
	Bytecode  []byte
}

// RuntimeContext serves application bytecode to a chain's execution runtime,
// caching loaded code per application.
type RuntimeContext struct {
	storage Storage
	chainID pxchain.ChainID

	contracts *xsync.Map[pxchain.ApplicationID, UserCode]
	services  *xsync.Map[pxchain.ApplicationID, UserCode]
}

func NewRuntimeContext(s Storage, chainID pxchain.ChainID) *RuntimeContext {
	return &RuntimeContext{
		storage: s,
		chainID: chainID,

		contracts: xsync.NewMap[pxchain.ApplicationID, UserCode](),
		services:  xsync.NewMap[pxchain.ApplicationID, UserCode](),
	}
}

func (c *RuntimeContext) ChainID() pxchain.ChainID { return c.chainID }

func (c *RuntimeContext) Storage() Storage { return c.storage }

// UserContract returns the contract code for desc,
// loading it from storage on first use.
func (c *RuntimeContext) UserContract(ctx context.Context, desc pxchain.ApplicationDescription) (UserCode, error) {
	return c.load(ctx, c.contracts, desc, desc.ModuleID.ContractBlobID())
}

// UserService returns the service code for desc,
// loading it from storage on first use.
func (c *RuntimeContext) UserService(ctx context.Context, desc pxchain.ApplicationDescription) (UserCode, error) {
	return c.load(ctx, c.services, desc, desc.ModuleID.ServiceBlobID())
}

// DropCaches forgets every loaded application.
// Later calls reload from storage.
func (c *RuntimeContext) DropCaches() {
	c.contracts.Clear()
	c.services.Clear()
}

func (c *RuntimeContext) load(
	ctx context.Context,
	m *xsync.Map[pxchain.ApplicationID, UserCode],
	desc pxchain.ApplicationDescription,
	blobID pxchain.BlobID,
) (UserCode, error) {
	appID := desc.ID()
	if code, ok := m.Load(appID); ok {
		return code, nil
	}

	var loadErr error
	code, _ := m.LoadOrCompute(appID, func() (UserCode, bool) {
		blob, err := c.storage.ReadBlob(ctx, blobID)
		if err != nil {
			loadErr = err
			return UserCode{}, true
		}
		bytecode, err := snappy.Decode(nil, blob.Bytes())
		if err != nil {
			loadErr = fmt.Errorf("failed to decompress bytecode blob %s: %w", blobID, err)
			return UserCode{}, true
		}
		return UserCode{VMRuntime: desc.ModuleID.VMRuntime, Bytecode: bytecode}, false
	})
	if loadErr != nil {
		return UserCode{}, fmt.Errorf("failed to load application %s: %w", appID, loadErr)
	}
	return code, nil
}
