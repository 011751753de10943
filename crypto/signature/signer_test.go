package signature

import (
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	voiEd25519 "github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/oasisprotocol/oasis-core/go/common/cbor"

	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

// testBackend is a software backend used to exercise the Signer without depending on the
// backend packages.
type testBackend struct {
	sync.RWMutex

	privateKey voiEd25519.PrivateKey
	publicKey  ed25519.PublicKey

	failWith error
	signs    atomic.Int64
	resets   atomic.Int64
}

func newTestBackend(seed string) *testBackend {
	s := sha512.Sum512_256([]byte(seed))
	sk := voiEd25519.NewKeyFromSeed(s[:])

	var pk ed25519.PublicKey
	copy(pk[:], sk.Public().(voiEd25519.PublicKey))
	return &testBackend{
		privateKey: sk,
		publicKey:  pk,
	}
}

func (b *testBackend) Public() ed25519.PublicKey {
	return b.publicKey
}

func (b *testBackend) Sign(message []byte) (ed25519.Signature, error) {
	b.signs.Add(1)
	if b.failWith != nil {
		return ed25519.Signature{}, b.failWith
	}

	b.RLock()
	defer b.RUnlock()
	if b.privateKey == nil {
		return ed25519.Signature{}, fmt.Errorf("test backend: reset")
	}
	return ed25519.NewSignatureFromBytes(voiEd25519.Sign(b.privateKey, message))
}

func (b *testBackend) String() string {
	return "[test backend]"
}

func (b *testBackend) Reset() {
	b.Lock()
	defer b.Unlock()

	b.resets.Add(1)
	for idx := range b.privateKey {
		b.privateKey[idx] = 0
	}
	b.privateKey = nil
}

func TestProvider(t *testing.T) {
	require := require.New(t)

	for _, p := range Providers() {
		require.True(p.IsValid())

		text, err := p.MarshalText()
		require.NoError(err)

		var decoded Provider
		err = decoded.UnmarshalText(text)
		require.NoError(err)
		require.Equal(p, decoded)
	}

	require.Equal("software-ed25519", ProviderSoftwareEd25519.String())
	require.Equal("ledger", ProviderLedger.String())
	require.Equal("remote-kms", ProviderRemoteKMS.String())

	require.False(ProviderInvalid.IsValid())
	_, err := ProviderInvalid.MarshalText()
	require.ErrorIs(err, ErrInvalidProvider)
	_, err = Provider(42).MarshalText()
	require.ErrorIs(err, ErrInvalidProvider)

	var p Provider
	err = p.UnmarshalText([]byte("yubihsm"))
	require.ErrorIs(err, ErrInvalidProvider)
	require.Equal(ProviderInvalid, p)
}

func TestIdentity(t *testing.T) {
	require := require.New(t)

	b1 := newTestBackend("identity test: 1")
	b2 := newTestBackend("identity test: 2")

	id1 := NewConsensusIdentity(b1.Public())
	id2 := NewConsensusIdentity(b2.Public())
	require.True(id1.IsConsensus())
	require.Equal(RoleConsensus, id1.Role())
	require.True(id1.Equal(NewConsensusIdentity(b1.Public())))
	require.False(id1.Equal(id2))
	require.Equal("consensus:"+b1.Public().String(), id1.String())

	data, err := json.Marshal(id1)
	require.NoError(err)
	var decJSON Identity
	err = json.Unmarshal(data, &decJSON)
	require.NoError(err)
	require.True(id1.Equal(decJSON))

	var decCBOR Identity
	err = cbor.Unmarshal(cbor.Marshal(id2), &decCBOR)
	require.NoError(err)
	require.True(id2.Equal(decCBOR))

	err = json.Unmarshal([]byte(`{"role":7,"public_key":`+string(mustJSON(t, b1.Public()))+`}`), &decJSON)
	require.Error(err, "unknown roles should be rejected")
}

func mustJSON(t *testing.T, v interface{}) []byte {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestSignerSign(t *testing.T) {
	require := require.New(t)

	backend := newTestBackend("signer test")
	signer := New(ProviderSoftwareEd25519, backend.Public(), backend)
	defer signer.Close()

	require.Equal(ProviderSoftwareEd25519, signer.Provider())
	require.True(signer.PublicKey().Equal(backend.Public()))
	require.True(signer.Identity().IsConsensus())

	msg1 := []byte("vote:height=10,round=0")
	msg2 := []byte("vote:height=10,round=1")

	sig1, err := signer.Sign(msg1)
	require.NoError(err)
	sig1Again, err := signer.Sign(msg1)
	require.NoError(err)
	require.True(sig1.Equal(sig1Again), "signing should be deterministic")

	require.True(signer.Identity().Verify(msg1, sig1))
	require.False(signer.Identity().Verify(msg2, sig1), "signature should not verify over another message")

	sig2, err := signer.Sign(msg2)
	require.NoError(err)
	require.False(sig1.Equal(sig2))
	require.True(signer.PublicKey().Verify(msg2, sig2))

	// Every call reaches the backend.
	require.EqualValues(3, backend.signs.Load())

	// The empty message is a message like any other.
	sig, err := signer.Sign(nil)
	require.NoError(err)
	require.True(signer.PublicKey().Verify([]byte{}, sig))
}

func TestSignerNewVerified(t *testing.T) {
	require := require.New(t)

	backend := newTestBackend("verified test: 1")
	other := newTestBackend("verified test: 2")

	signer, err := NewVerified(ProviderSoftwareEd25519, backend.Public(), backend)
	require.NoError(err)
	require.NotNil(signer)
	signer.Close()

	_, err = NewVerified(ProviderSoftwareEd25519, other.Public(), backend)
	require.ErrorIs(err, ErrKeyMismatch)

	_, err = NewVerified(ProviderInvalid, backend.Public(), backend)
	require.ErrorIs(err, ErrInvalidProvider)

	_, err = NewVerified(ProviderSoftwareEd25519, backend.Public(), nil)
	require.Error(err)

	var invalid ed25519.PublicKey
	for i := 0; i < 256; i++ {
		invalid[0] = byte(i)
		if !invalid.IsValid() {
			break
		}
	}
	require.False(invalid.IsValid())
	_, err = NewVerified(ProviderSoftwareEd25519, invalid, backend)
	require.ErrorIs(err, ed25519.ErrMalformedKey)
}

func TestSignerFailure(t *testing.T) {
	require := require.New(t)

	deviceErr := errors.New("device disconnected")
	backend := newTestBackend("failure test")
	backend.failWith = deviceErr

	signer := New(ProviderLedger, backend.Public(), backend)
	defer signer.Close()

	_, err := signer.Sign([]byte("vote:height=10,round=0"))
	require.ErrorIs(err, ErrSigningFailure)
	require.ErrorIs(err, deviceErr)
	require.NotContains(err.Error(), fmt.Sprintf("%x", backend.privateKey))
	require.EqualValues(1, backend.signs.Load(), "failed requests must not be retried")
}

func TestSignerClone(t *testing.T) {
	require := require.New(t)

	const numClones = 10

	backend := newTestBackend("clone test")
	signer := New(ProviderSoftwareEd25519, backend.Public(), backend)

	clones := []*Signer{signer}
	for i := 0; i < numClones-1; i++ {
		clones = append(clones, signer.Clone())
	}

	// Drop all clones except the last one, including the original.
	for _, s := range clones[:numClones-1] {
		s.Close()
		_, err := s.Sign([]byte("closed"))
		require.ErrorIs(err, ErrSignerClosed)
	}
	require.EqualValues(0, backend.resets.Load(), "backend should outlive all but the last clone")

	last := clones[numClones-1]
	msg := []byte("still alive")
	sig, err := last.Sign(msg)
	require.NoError(err)
	require.True(last.PublicKey().Verify(msg, sig))

	last.Close()
	last.Close()
	require.EqualValues(1, backend.resets.Load(), "backend should be reset exactly once")

	_, err = last.Sign(msg)
	require.ErrorIs(err, ErrSignerClosed)

	closedClone := last.Clone()
	_, err = closedClone.Sign(msg)
	require.ErrorIs(err, ErrSignerClosed)
	closedClone.Close()
	require.EqualValues(1, backend.resets.Load())
}

// blockingBackend holds every request for the slow message until released.
type blockingBackend struct {
	*testBackend

	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Sign(message []byte) (ed25519.Signature, error) {
	if string(message) == "slow" {
		close(b.started)
		<-b.release
	}
	return b.testBackend.Sign(message)
}

func TestSignerCloneDuringSign(t *testing.T) {
	require := require.New(t)

	backend := &blockingBackend{
		testBackend: newTestBackend("blocking test"),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	signer := New(ProviderLedger, backend.Public(), backend)
	other := signer.Clone()

	slowDone := make(chan error, 1)
	go func() {
		_, err := signer.Sign([]byte("slow"))
		slowDone <- err
	}()
	<-backend.started

	// Neither cloning nor signing on another clone may wait for the request in flight.
	fastDone := make(chan error, 1)
	go func() {
		clone := signer.Clone()
		defer clone.Close()

		if _, err := clone.Sign([]byte("fast")); err != nil {
			fastDone <- err
			return
		}
		_, err := other.Sign([]byte("fast"))
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		require.Fail("clone and sign blocked behind a request in flight")
	}

	close(backend.release)
	require.NoError(<-slowDone)

	other.Close()
	require.EqualValues(0, backend.resets.Load())
	signer.Close()
	require.EqualValues(1, backend.resets.Load())
}

func TestSignerNilBackend(t *testing.T) {
	require := require.New(t)

	signer := New(ProviderSoftwareEd25519, ed25519.PublicKey{}, nil)
	_, err := signer.Sign([]byte("message"))
	require.ErrorIs(err, ErrSigningFailure)
	require.NotErrorIs(err, ErrSignerClosed)

	signer.Close()
	_, err = signer.Sign([]byte("message"))
	require.ErrorIs(err, ErrSignerClosed)
}

func TestSignerConcurrent(t *testing.T) {
	require := require.New(t)

	const numSigners = 100

	backend := newTestBackend("concurrency test")
	signer := New(ProviderSoftwareEd25519, backend.Public(), backend)
	defer signer.Close()

	var (
		g    errgroup.Group
		sigs [numSigners]ed25519.Signature
	)
	for i := 0; i < numSigners; i++ {
		i := i
		clone := signer.Clone()
		g.Go(func() error {
			defer clone.Close()

			sig, err := clone.Sign([]byte(fmt.Sprintf("vote:height=%d,round=0", i)))
			if err != nil {
				return err
			}
			sigs[i] = sig
			return nil
		})
	}
	require.NoError(g.Wait())

	for i, sig := range sigs {
		require.True(signer.PublicKey().Verify([]byte(fmt.Sprintf("vote:height=%d,round=0", i)), sig), "signature %d", i)
	}
	require.EqualValues(numSigners, backend.signs.Load())
	require.EqualValues(0, backend.resets.Load())
}

func TestSignerRedacted(t *testing.T) {
	require := require.New(t)

	backend := newTestBackend("redaction test")
	signer := New(ProviderSoftwareEd25519, backend.Public(), backend)
	defer signer.Close()

	secret := fmt.Sprintf("%x", []byte(backend.privateKey[:ed25519.SeedSize]))
	for _, s := range []string{
		signer.String(),
		fmt.Sprintf("%v", signer),
		fmt.Sprintf("%+v", signer),
		fmt.Sprintf("%#v", signer),
	} {
		require.NotContains(s, secret)
		require.Contains(s, backend.Public().String())
	}
}

func TestSignerMetrics(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	RegisterMetrics(reg)

	backend := newTestBackend("metrics test")
	signer := New(ProviderRemoteKMS, backend.Public(), backend)
	defer signer.Close()

	okBefore := testutil.ToFloat64(signRequests.WithLabelValues(ProviderRemoteKMS.String(), metricsResultOk))
	failBefore := testutil.ToFloat64(signRequests.WithLabelValues(ProviderRemoteKMS.String(), metricsResultFailure))

	_, err := signer.Sign([]byte("metrics"))
	require.NoError(err)

	backend.failWith = errors.New("unavailable")
	_, err = signer.Sign([]byte("metrics"))
	require.Error(err)

	require.Equal(okBefore+1, testutil.ToFloat64(signRequests.WithLabelValues(ProviderRemoteKMS.String(), metricsResultOk)))
	require.Equal(failBefore+1, testutil.ToFloat64(signRequests.WithLabelValues(ProviderRemoteKMS.String(), metricsResultFailure)))

	count, err := testutil.GatherAndCount(reg, "oasis_kms_sign_requests_total")
	require.NoError(err)
	require.Positive(count)
}
