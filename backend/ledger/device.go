package ledger

import (
	"errors"
	"fmt"
	"sync"

	coreSignature "github.com/oasisprotocol/oasis-core/go/common/crypto/signature"
	staking "github.com/oasisprotocol/oasis-core/go/staking/api"
	ledger_go "github.com/zondax/ledger-go"

	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

const (
	userMessageChunkSize = 250

	claConsumer = 0x05

	insGetVersion     = 0
	insGetAddrEd25519 = 1
	insSignEd25519    = 2

	payloadChunkInit = 0
	payloadChunkAdd  = 1
	payloadChunkLast = 2

	// Device status words, as reported by the transport.
	errMsgInvalidParameters = "[APDU_CODE_BAD_KEY_HANDLE] The parameters in the data field are incorrect"
	errMsgInvalidated       = "[APDU_CODE_DATA_INVALID] Referenced data reversibly blocked (invalidated)"
	errMsgRejected          = "[APDU_CODE_COMMAND_NOT_ALLOWED] Sign request rejected"
)

var (
	// ErrRejected is the error returned when the device refuses to sign a request, either by
	// user action or by its own signing policy.
	ErrRejected = errors.New("ledger: signing request rejected")

	// ErrNoDevice is the error returned when no device is connected.
	ErrNoDevice = errors.New("ledger: no devices connected")

	errDeviceClosed = errors.New("ledger: device closed")
)

// VersionInfo is the version of the validator app running on the device.
type VersionInfo struct {
	Major uint8
	Minor uint8
	Patch uint8
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

type transport interface {
	Exchange(command []byte) ([]byte, error)
	Close() error
}

var _ transport = (ledger_go.LedgerDevice)(nil)

// ledgerDevice is a connected device. The device handles one request at a time, so every
// exchange holds the lock, and a signing request holds it for its whole chunk sequence.
type ledgerDevice struct {
	l sync.Mutex

	raw    transport
	closed bool
}

func (ld *ledgerDevice) exchangeLocked(ins, p1 byte, payload []byte) ([]byte, error) {
	if ld.closed {
		return nil, errDeviceClosed
	}
	apdu, err := newAPDU(ins, p1, payload)
	if err != nil {
		return nil, err
	}
	return ld.raw.Exchange(apdu)
}

func (ld *ledgerDevice) exchange(ins, p1 byte, payload []byte) ([]byte, error) {
	ld.l.Lock()
	defer ld.l.Unlock()

	return ld.exchangeLocked(ins, p1, payload)
}

// Close closes the connection to the device.
func (ld *ledgerDevice) Close() error {
	ld.l.Lock()
	defer ld.l.Unlock()

	if ld.closed {
		return nil
	}
	ld.closed = true
	return ld.raw.Close()
}

// GetVersion returns the version of the validator app.
func (ld *ledgerDevice) GetVersion() (*VersionInfo, error) {
	rsp, err := ld.exchange(insGetVersion, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to get app version: %w", err)
	}
	if len(rsp) < 4 {
		return nil, fmt.Errorf("ledger: truncated version response")
	}

	// The first byte is the test mode flag.
	return &VersionInfo{
		Major: rsp[1],
		Minor: rsp[2],
		Patch: rsp[3],
	}, nil
}

// GetPublicKeyEd25519 returns the public key at the given derivation path. When confirm is set
// the user has to confirm the key on the device.
func (ld *ledgerDevice) GetPublicKeyEd25519(path []uint32, confirm bool) (ed25519.PublicKey, error) {
	pathBytes, err := getBip44bytes(path)
	if err != nil {
		return ed25519.PublicKey{}, fmt.Errorf("ledger: %w", err)
	}

	var p1 byte
	if confirm {
		p1 = 1
	}
	rsp, err := ld.exchange(insGetAddrEd25519, p1, pathBytes)
	if err != nil {
		return ed25519.PublicKey{}, fmt.Errorf("ledger: failed to get public key: %w", err)
	}
	if len(rsp) <= ed25519.PublicKeySize {
		return ed25519.PublicKey{}, fmt.Errorf("ledger: truncated public key response")
	}

	pk, err := ed25519.NewPublicKeyFromBytes(rsp[:ed25519.PublicKeySize])
	if err != nil {
		return ed25519.PublicKey{}, fmt.Errorf("ledger: device returned malformed public key: %w", err)
	}

	// The device also reports the staking address of the key, which must agree with it.
	var reported staking.Address
	if err = reported.UnmarshalText(rsp[ed25519.PublicKeySize:]); err != nil {
		return ed25519.PublicKey{}, fmt.Errorf("ledger: device returned malformed address: %w", err)
	}
	if expected := staking.NewAddress(coreSignature.PublicKey(pk)); !reported.Equal(expected) {
		return ed25519.PublicKey{}, fmt.Errorf("ledger: device address %s does not match public key address %s", reported, expected)
	}

	return pk, nil
}

// SignEd25519 asks the device to sign the message with the key at the given derivation path.
func (ld *ledgerDevice) SignEd25519(path []uint32, message []byte) ([]byte, error) {
	pathBytes, err := getBip44bytes(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	chunks, err := prepareChunks(pathBytes, message, userMessageChunkSize)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	ld.l.Lock()
	defer ld.l.Unlock()

	var rsp []byte
	for idx, chunk := range chunks {
		if rsp, err = ld.exchangeLocked(insSignEd25519, chunkDescriptor(idx, len(chunks)), chunk); err != nil {
			return nil, mapSignError(err)
		}
	}
	return rsp, nil
}

func mapSignError(err error) error {
	switch err.Error() {
	case errMsgRejected:
		return ErrRejected
	case errMsgInvalidParameters, errMsgInvalidated:
		return fmt.Errorf("ledger: device refused request: %s", err)
	default:
		return fmt.Errorf("ledger: failed to sign: %w", err)
	}
}

// connectToDevice connects to the single connected device.
func connectToDevice() (*ledgerDevice, error) {
	admin := ledger_go.NewLedgerAdmin()

	switch n := admin.CountDevices(); {
	case n == 0:
		return nil, ErrNoDevice
	case n > 1:
		return nil, fmt.Errorf("ledger: multiple devices not supported")
	}

	raw, err := admin.Connect(0)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to connect to device: %w", err)
	}
	return &ledgerDevice{raw: raw}, nil
}
