package attest

import (
	"context"
	"strings"
	"testing"
	"time"

	"ZKAttest-Chain/internal/envelope"
	xerrors "ZKAttest-Chain/internal/errors"
	"ZKAttest-Chain/internal/ledger"
)

type stubEndpoint struct {
	name string

	existsResults  []bool
	existsErrs     []error
	submitErrs     []error
	confirmResults []bool
	confirmErrs    []error

	existsCalls  int
	submitCalls  int
	confirmCalls int
}

func (s *stubEndpoint) Name() string { return s.name }

func (s *stubEndpoint) Exists(ctx context.Context, fp envelope.Fingerprint) (bool, error) {
	i := s.existsCalls
	s.existsCalls++
	var result bool
	var err error
	if i < len(s.existsResults) {
		result = s.existsResults[i]
	}
	if i < len(s.existsErrs) {
		err = s.existsErrs[i]
	}
	return result, err
}

func (s *stubEndpoint) Submit(ctx context.Context, fp envelope.Fingerprint) (ledger.Receipt, error) {
	i := s.submitCalls
	s.submitCalls++
	if i < len(s.submitErrs) && s.submitErrs[i] != nil {
		return ledger.Receipt{}, s.submitErrs[i]
	}
	return ledger.Receipt{ID: "0xreceipt"}, nil
}

func (s *stubEndpoint) Confirm(ctx context.Context, receiptID string) (bool, error) {
	i := s.confirmCalls
	s.confirmCalls++
	var result bool
	var err error
	if i < len(s.confirmResults) {
		result = s.confirmResults[i]
	}
	if i < len(s.confirmErrs) {
		err = s.confirmErrs[i]
	}
	return result, err
}

func (s *stubEndpoint) Close() {}

func fastSubmitter(t *testing.T, endpoints []ledger.Endpoint, opts ...SubmitterOption) *Submitter {
	t.Helper()
	base := []SubmitterOption{
		WithBaseDelay(time.Millisecond),
		WithConfirmTimeout(20 * time.Millisecond),
		WithConfirmPollInterval(time.Millisecond),
	}
	sub, err := NewSubmitter(endpoints, append(base, opts...)...)
	if err != nil {
		t.Fatalf("构造提交器失败: %v", err)
	}
	return sub
}

func testFingerprint() envelope.Fingerprint {
	return envelope.ComputeFingerprint([]byte("proof"), []byte("inputs"))
}

func TestAttestConfirmsOnFirstAttempt(t *testing.T) {
	ep := &stubEndpoint{name: "primary", confirmResults: []bool{true}}
	sub := fastSubmitter(t, []ledger.Endpoint{ep})

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeConfirmed {
		t.Fatalf("期望确认成功, 实际 %s (%s)", record.Outcome, record.LastError)
	}
	if record.Endpoint != "primary" {
		t.Fatalf("期望端点 primary, 实际 %s", record.Endpoint)
	}
	if record.ReceiptID == "" || record.ConfirmedAt == 0 {
		t.Fatalf("确认记录不完整: %+v", record)
	}
	if ep.submitCalls != 1 {
		t.Fatalf("期望提交一次, 实际 %d 次", ep.submitCalls)
	}
}

func TestAttestSkipsSubmitWhenAlreadyRecorded(t *testing.T) {
	ep := &stubEndpoint{name: "primary", existsResults: []bool{true}}
	sub := fastSubmitter(t, []ledger.Endpoint{ep})

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeAlreadyRecorded {
		t.Fatalf("期望幂等短路, 实际 %s", record.Outcome)
	}
	if ep.submitCalls != 0 {
		t.Fatalf("预检命中后不应提交, 实际提交 %d 次", ep.submitCalls)
	}
}

func TestAttestRotatesEndpointsOnTransientFailure(t *testing.T) {
	unavailable := xerrors.New(ledger.CodeUnavailable, "节点不可达")
	primary := &stubEndpoint{name: "primary", submitErrs: []error{unavailable}}
	secondary := &stubEndpoint{name: "secondary", confirmResults: []bool{true}}
	sub := fastSubmitter(t, []ledger.Endpoint{primary, secondary})

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeConfirmed {
		t.Fatalf("期望在备用端点确认成功, 实际 %s (%s)", record.Outcome, record.LastError)
	}
	if record.Endpoint != "secondary" {
		t.Fatalf("期望轮换到 secondary, 实际 %s", record.Endpoint)
	}
	if primary.submitCalls != 1 || secondary.submitCalls != 1 {
		t.Fatalf("轮换次序异常: primary=%d secondary=%d", primary.submitCalls, secondary.submitCalls)
	}
}

func TestAttestFailsAfterRetryBudgetExhausted(t *testing.T) {
	unavailable := xerrors.New(ledger.CodeUnavailable, "节点不可达")
	ep := &stubEndpoint{
		name:       "primary",
		submitErrs: []error{unavailable, unavailable, unavailable},
	}
	sub := fastSubmitter(t, []ledger.Endpoint{ep}, WithMaxAttempts(3))

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeFailed {
		t.Fatalf("期望重试耗尽后失败, 实际 %s", record.Outcome)
	}
	if ep.submitCalls != 3 {
		t.Fatalf("期望恰好重试 3 次, 实际 %d 次", ep.submitCalls)
	}
	if !strings.Contains(record.LastError, "重试预算耗尽") {
		t.Fatalf("失败原因缺失: %q", record.LastError)
	}
}

func TestAttestStopsImmediatelyOnPermanentError(t *testing.T) {
	unauthorized := xerrors.New(ledger.CodeUnauthorized, "提交方无见证权限")
	ep := &stubEndpoint{name: "primary", submitErrs: []error{unauthorized, unauthorized}}
	sub := fastSubmitter(t, []ledger.Endpoint{ep}, WithMaxAttempts(5))

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeFailed {
		t.Fatalf("期望永久失败, 实际 %s", record.Outcome)
	}
	if ep.submitCalls != 1 {
		t.Fatalf("永久失败不应重试, 实际提交 %d 次", ep.submitCalls)
	}
}

func TestAttestTreatsDuplicateSubmitAsAlreadyRecorded(t *testing.T) {
	duplicate := xerrors.New(ledger.CodeDuplicate, "指纹已见证")
	ep := &stubEndpoint{name: "primary", submitErrs: []error{duplicate}}
	sub := fastSubmitter(t, []ledger.Endpoint{ep})

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeAlreadyRecorded {
		t.Fatalf("期望重复提交折算为已记录, 实际 %s", record.Outcome)
	}
}

func TestAttestRecoversFromConfirmTimeoutViaPrecheck(t *testing.T) {
	// 第一次确认一直未出回执直至超时; 重试时预检发现指纹已在链上,
	// 说明首笔交易最终被打包, 结果应折算为已记录而非重复提交。
	ep := &stubEndpoint{
		name:          "primary",
		existsResults: []bool{false, true},
	}
	sub := fastSubmitter(t, []ledger.Endpoint{ep}, WithMaxAttempts(3))

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeAlreadyRecorded {
		t.Fatalf("期望重试预检收敛为已记录, 实际 %s (%s)", record.Outcome, record.LastError)
	}
	if ep.submitCalls != 1 {
		t.Fatalf("期望仅提交一次, 实际 %d 次", ep.submitCalls)
	}
}

func TestAttestNotifiesReceiptBeforeConfirmation(t *testing.T) {
	// 确认迟迟不出结果直至重试耗尽, 但回执一到手就应当同步通知,
	// 不能等整个状态机走完。
	ep := &stubEndpoint{name: "primary"}
	sub := fastSubmitter(t, []ledger.Endpoint{ep}, WithMaxAttempts(1))

	var notified []Record
	record := sub.Attest(context.Background(), testFingerprint(), func(pending Record) {
		notified = append(notified, pending)
	})
	if record.Outcome != OutcomeFailed {
		t.Fatalf("期望确认超时后失败, 实际 %s", record.Outcome)
	}
	if len(notified) != 1 {
		t.Fatalf("期望收到一次回执通知, 实际 %d 次", len(notified))
	}
	if notified[0].ReceiptID != "0xreceipt" || notified[0].Outcome != OutcomePending {
		t.Fatalf("回执通知内容异常: %+v", notified[0])
	}
}

func TestAttestRevertedReceiptConvergesViaRecheck(t *testing.T) {
	// 交易回滚且回执不携带原因; 复查发现指纹已在账上, 折算为已记录。
	reverted := xerrors.New(ledger.CodeReverted, "交易执行回滚")
	ep := &stubEndpoint{
		name:          "primary",
		confirmErrs:   []error{reverted},
		existsResults: []bool{false, true},
	}
	sub := fastSubmitter(t, []ledger.Endpoint{ep})

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeAlreadyRecorded {
		t.Fatalf("期望复查收敛为已记录, 实际 %s (%s)", record.Outcome, record.LastError)
	}
	if ep.submitCalls != 1 {
		t.Fatalf("期望仅提交一次, 实际 %d 次", ep.submitCalls)
	}
}

func TestAttestRevertedReceiptWithoutRecordRetries(t *testing.T) {
	// 回滚且复查指纹不在账上, 说明不是重复提交, 按瞬时失败重试。
	reverted := xerrors.New(ledger.CodeReverted, "交易执行回滚")
	ep := &stubEndpoint{
		name:        "primary",
		confirmErrs: []error{reverted, reverted},
	}
	sub := fastSubmitter(t, []ledger.Endpoint{ep}, WithMaxAttempts(2))

	record := sub.Attest(context.Background(), testFingerprint(), nil)
	if record.Outcome != OutcomeFailed {
		t.Fatalf("期望重试耗尽后失败, 实际 %s", record.Outcome)
	}
	if ep.submitCalls != 2 {
		t.Fatalf("期望重试提交 2 次, 实际 %d 次", ep.submitCalls)
	}
	if !strings.Contains(record.LastError, "重试预算耗尽") {
		t.Fatalf("失败原因缺失: %q", record.LastError)
	}
}

func TestAttestHonorsContextCancellation(t *testing.T) {
	unavailable := xerrors.New(ledger.CodeUnavailable, "节点不可达")
	ep := &stubEndpoint{name: "primary", submitErrs: []error{unavailable, unavailable}}
	sub := fastSubmitter(t, []ledger.Endpoint{ep},
		WithMaxAttempts(5), WithBaseDelay(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	record := sub.Attest(ctx, testFingerprint(), nil)
	if record.Outcome != OutcomeFailed {
		t.Fatalf("期望取消后失败, 实际 %s", record.Outcome)
	}
}

func TestNewSubmitterRequiresEndpoints(t *testing.T) {
	if _, err := NewSubmitter(nil); err == nil {
		t.Fatal("空端点列表应当报错")
	}
}
