package token

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/spotdex/pkg/app/core/asset"
	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
)

var custody = common.HexToAddress("0xDE00000000000000000000000000000000000000")

func newRegistry() *Registry {
	return NewRegistry(MustTicker("ETH"), asset.NewNativeVault("ETH", custody, nil))
}

func TestParseTicker(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"usdt", "USDT", false},
		{"  Blue ", "BLUE", false},
		{"W.ETH_2-X", "W.ETH_2-X", false},
		{"", "", true},
		{"   ", "", true},
		{"BAD TICKER", "", true},
		{"$USD", "", true},
		{"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456", "", true},
		{"ABCDEFGHIJKLMNOPQRSTUVWXYZ012345", "ABCDEFGHIJKLMNOPQRSTUVWXYZ012345", false},
	}

	for _, tt := range tests {
		got, err := ParseTicker(tt.in)
		if tt.wantErr {
			if !errors.Is(err, dexerr.ErrInvalidTicker) {
				t.Errorf("ParseTicker(%q): got err %v, want ErrInvalidTicker", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTicker(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseTicker(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTickerText(t *testing.T) {
	var tk Ticker
	if err := tk.UnmarshalText([]byte("blue")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, _ := tk.MarshalText()
	if string(b) != "BLUE" {
		t.Errorf("marshal = %q, want BLUE", b)
	}
}

func TestRegistryNativeRegisteredAtConstruction(t *testing.T) {
	r := newRegistry()
	eth := MustTicker("ETH")
	if !r.IsRegistered(eth) {
		t.Fatal("native ticker not registered")
	}
	if !r.IsNative(eth) {
		t.Error("IsNative(ETH) = false")
	}
	if r.IsApprovedQuote(eth) {
		t.Error("native ticker should not be a quote until approved")
	}
}

func TestRegistryRegister(t *testing.T) {
	r := newRegistry()
	blue := MustTicker("BLUE")
	usdt := MustTicker("USDT")

	if err := r.Register(blue, asset.NewMemoryToken("BLUE", custody)); err != nil {
		t.Fatalf("register BLUE: %v", err)
	}
	if err := r.Register(usdt, asset.NewMemoryToken("USDT", custody)); err != nil {
		t.Fatalf("register USDT: %v", err)
	}

	err := r.Register(blue, asset.NewMemoryToken("BLUE", custody))
	if !errors.Is(err, dexerr.ErrDuplicateTicker) {
		t.Errorf("duplicate register: got %v, want ErrDuplicateTicker", err)
	}

	got := r.Tickers()
	want := []string{"ETH", "BLUE", "USDT"}
	if len(got) != len(want) {
		t.Fatalf("Tickers() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("Tickers()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	info, err := r.Info(usdt)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Index != 2 || info.Asset.Kind != asset.KindMemory {
		t.Errorf("info = %+v", info)
	}
}

func TestRegistryApproveQuote(t *testing.T) {
	r := newRegistry()
	usdt := MustTicker("USDT")

	if err := r.ApproveQuote(usdt); !errors.Is(err, dexerr.ErrUnknownTicker) {
		t.Fatalf("approve unregistered: got %v, want ErrUnknownTicker", err)
	}
	if r.IsRegistered(usdt) || r.IsApprovedQuote(usdt) {
		t.Fatal("failed approve changed registry state")
	}

	if err := r.Register(usdt, asset.NewMemoryToken("USDT", custody)); err != nil {
		t.Fatal(err)
	}
	if err := r.ApproveQuote(usdt); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := r.ApproveQuote(usdt); err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if !r.IsApprovedQuote(usdt) {
		t.Error("USDT not approved")
	}
	if q := r.QuoteTickers(); len(q) != 1 || q[0] != usdt {
		t.Errorf("QuoteTickers() = %v", q)
	}
}

func TestRegistryHandleUnknown(t *testing.T) {
	r := newRegistry()
	if _, err := r.Handle(MustTicker("NOPE")); !errors.Is(err, dexerr.ErrUnknownTicker) {
		t.Errorf("got %v, want ErrUnknownTicker", err)
	}
}
