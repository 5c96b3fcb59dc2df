package ethereum

import (
	"context"
	"errors"
	"testing"

	xerrors "ZKAttest-Chain/internal/errors"
	"ZKAttest-Chain/internal/ledger"
)

func TestClassifyMapsRevertReasons(t *testing.T) {
	client := &Client{name: "primary"}

	cases := []struct {
		name      string
		err       error
		wantCode  xerrors.Code
		permanent bool
	}{
		{"duplicate", errors.New("execution reverted: already attested"), ledger.CodeDuplicate, true},
		{"unauthorized", errors.New("execution reverted: only attestor"), ledger.CodeUnauthorized, true},
		{"malformed", errors.New("invalid argument 0: hex string"), ledger.CodeRejected, true},
		{"timeout", context.DeadlineExceeded, xerrors.CodeTimeout, false},
		{"unreachable", errors.New("dial tcp 127.0.0.1:8545: connection refused"), ledger.CodeUnavailable, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := client.classify(tc.err, "提交失败")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := xerrors.CodeOf(err); got != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, got)
			}
			if got := ledger.IsPermanent(err); got != tc.permanent {
				t.Fatalf("IsPermanent = %v, want %v", got, tc.permanent)
			}
		})
	}
}

func TestClassifyNilError(t *testing.T) {
	client := &Client{}
	if err := client.classify(nil, "无"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestExplorerLinkJoinsTxPath(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://explorer.example.com", "https://explorer.example.com/tx/0xabc"},
		{"https://explorer.example.com/", "https://explorer.example.com/tx/0xabc"},
	}
	for _, tc := range cases {
		client := &Client{explorerURL: tc.base}
		if got := client.explorerLink("0xabc"); got != tc.want {
			t.Fatalf("explorerLink(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
	if _, err := NewClient(context.Background(), Config{RPCURL: "http://127.0.0.1:8545", Contract: "not-an-address"}); err == nil {
		t.Fatal("expected error for invalid contract address")
	}
}
