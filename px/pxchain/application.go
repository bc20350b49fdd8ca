package pxchain

import (
	"encoding/json"
	"fmt"
)

// VMRuntime is the virtual machine an application's bytecode targets.
type VMRuntime uint8

const (
	VMRuntimeWasm VMRuntime = iota
	VMRuntimeEvm
)

func (r VMRuntime) String() string {
	switch r {
	case VMRuntimeWasm:
		return "wasm"
	case VMRuntimeEvm:
		return "evm"
	default:
		return fmt.Sprintf("VMRuntime(%d)", uint8(r))
	}
}

func (r VMRuntime) MarshalText() ([]byte, error) {
	switch r {
	case VMRuntimeWasm, VMRuntimeEvm:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("cannot marshal unknown VM runtime %d", uint8(r))
	}
}

func (r *VMRuntime) UnmarshalText(b []byte) error {
	switch string(b) {
	case "wasm":
		*r = VMRuntimeWasm
	case "evm":
		*r = VMRuntimeEvm
	default:
		return fmt.Errorf("unknown VM runtime %q", b)
	}
	return nil
}

// ModuleID references the bytecode blobs of an application.
type ModuleID struct {
	ContractBlobHash CryptoHash `json:"contract_blob_hash"`
	ServiceBlobHash  CryptoHash `json:"service_blob_hash"`
	VMRuntime        VMRuntime  `json:"vm_runtime"`
}

// ContractBlobID returns the ID of the blob holding the compressed contract bytecode.
func (m ModuleID) ContractBlobID() BlobID {
	t := BlobTypeContractBytecode
	if m.VMRuntime == VMRuntimeEvm {
		t = BlobTypeEvmBytecode
	}
	return BlobID{Hash: m.ContractBlobHash, Type: t}
}

// ServiceBlobID returns the ID of the blob holding the compressed service bytecode.
func (m ModuleID) ServiceBlobID() BlobID {
	t := BlobTypeServiceBytecode
	if m.VMRuntime == VMRuntimeEvm {
		t = BlobTypeEvmBytecode
	}
	return BlobID{Hash: m.ServiceBlobHash, Type: t}
}

// ApplicationDescription describes one created application.
type ApplicationDescription struct {
	ModuleID          ModuleID     `json:"module_id"`
	CreatorChainID    ChainID      `json:"creator_chain_id"`
	BlockHeight       BlockHeight  `json:"block_height"`
	ApplicationIndex  uint32       `json:"application_index"`
	Parameters        []byte       `json:"parameters,omitempty"`
	RequiredAppHashes []CryptoHash `json:"required_application_ids,omitempty"`
}

// ApplicationID is the hash of an application's description.
type ApplicationID CryptoHash

func (id ApplicationID) String() string {
	return CryptoHash(id).String()
}

// ID returns the application ID derived from d.
func (d ApplicationDescription) ID() ApplicationID {
	j, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal application description: %w", err))
	}
	return ApplicationID(NewCryptoHash(j))
}
