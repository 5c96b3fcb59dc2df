package verifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/crypto"
)

type stubCapability struct {
	valid bool
	err   error
	calls int
}

func (s *stubCapability) CheckProof(_ context.Context, _, _, _ []byte) (bool, error) {
	s.calls++
	return s.valid, s.err
}

func testEnvelope(system envelope.ProofSystem, keyMaterial []byte) *envelope.Envelope {
	env := &envelope.Envelope{
		Version:      envelope.Version,
		System:       system,
		ProgramID:    7,
		Proof:        []byte("proof-bytes"),
		PublicInputs: []byte("public-input"),
	}
	if keyMaterial != nil {
		copy(env.VKCommitment[:], crypto.Keccak256(keyMaterial))
	}
	return env
}

func TestDispatchValidProof(t *testing.T) {
	keyMaterial := []byte("vk-material")
	keys := NewMemoryKeySource()
	keys.Register(envelope.SystemGroth16, 7, keyMaterial)

	cap := &stubCapability{valid: true}
	d := NewDispatcher(keys, WithCapability(envelope.SystemGroth16, cap))

	outcome, err := d.Verify(context.Background(), testEnvelope(envelope.SystemGroth16, keyMaterial))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !outcome.Valid || outcome.Diagnostics != "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if cap.calls != 1 {
		t.Fatalf("capability called %d times", cap.calls)
	}
}

func TestDispatchUnmappedSystemIsDistinct(t *testing.T) {
	d := NewDispatcher(NewMemoryKeySource())

	_, err := d.Verify(context.Background(), testEnvelope(envelope.SystemPlonk, nil))
	if err == nil {
		t.Fatal("expected error for unmapped system")
	}
	if !errors.Is(err, ErrUnmappedSystem) {
		t.Fatalf("error is not ErrUnmappedSystem: %v", err)
	}
	if xerrors.CodeOf(err) != CodeUnmappedSystem {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
}

func TestDispatchCapabilityErrorBecomesInvalid(t *testing.T) {
	keyMaterial := []byte("vk-material")
	keys := NewMemoryKeySource()
	keys.Register(envelope.SystemGroth16, 7, keyMaterial)

	cap := &stubCapability{err: errors.New("pairing check timed out")}
	d := NewDispatcher(keys, WithCapability(envelope.SystemGroth16, cap))

	outcome, err := d.Verify(context.Background(), testEnvelope(envelope.SystemGroth16, keyMaterial))
	if err != nil {
		t.Fatalf("capability errors must not escape: %v", err)
	}
	if outcome.Valid {
		t.Fatal("outcome should be invalid")
	}
	if !strings.Contains(outcome.Diagnostics, "timed out") {
		t.Fatalf("diagnostics missing cause: %q", outcome.Diagnostics)
	}
}

func TestDispatchCommitmentMismatch(t *testing.T) {
	keys := NewMemoryKeySource()
	keys.Register(envelope.SystemGroth16, 7, []byte("registered-key"))

	cap := &stubCapability{valid: true}
	d := NewDispatcher(keys, WithCapability(envelope.SystemGroth16, cap))

	// 信封中的承诺指向另一把密钥。
	env := testEnvelope(envelope.SystemGroth16, []byte("different-key"))
	outcome, err := d.Verify(context.Background(), env)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Valid {
		t.Fatal("commitment mismatch must fail verification")
	}
	if cap.calls != 0 {
		t.Fatal("capability must not run on commitment mismatch")
	}
}

func TestDispatchMissingKeyIsItemFailure(t *testing.T) {
	d := NewDispatcher(NewMemoryKeySource(),
		WithCapability(envelope.SystemGroth16, &stubCapability{valid: true}))

	outcome, err := d.Verify(context.Background(), testEnvelope(envelope.SystemGroth16, nil))
	if err != nil {
		t.Fatalf("missing key must not be session-fatal: %v", err)
	}
	if outcome.Valid {
		t.Fatal("outcome should be invalid without a key")
	}
}

func TestStarkStructuralChecks(t *testing.T) {
	keys := NewMemoryKeySource()
	d := NewDispatcher(keys, WithCapability(envelope.SystemStark, NewStarkCapability()))

	env := testEnvelope(envelope.SystemStark, nil)
	env.Proof = make([]byte, 128)
	env.PublicInputs = make([]byte, 32)

	outcome, err := d.Verify(context.Background(), env)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !outcome.Valid {
		t.Fatalf("structurally sound STARK rejected: %+v", outcome)
	}

	env.Proof = []byte{1, 2, 3}
	outcome, err = d.Verify(context.Background(), env)
	if err != nil {
		t.Fatalf("verify short proof: %v", err)
	}
	if outcome.Valid {
		t.Fatal("short STARK proof must fail the structural check")
	}
}
