package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var trader = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestBuildBodyConvertsUnits(t *testing.T) {
	u := units{amountDecimals: 18, priceDecimals: 9}
	body, err := buildBody(trader, 7, []string{"base=BLUE", "quote=USDT", "side=buy", "amount=1.5", "price=10"}, u)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"trader": trader.Hex(),
		"nonce":  uint64(7),
		"base":   "BLUE",
		"quote":  "USDT",
		"side":   "buy",
		"amount": "1500000000000000000",
		"price":  "10000000000",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
}

func TestBuildBody(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		u       units
		key     string
		want    any
		wantErr bool
	}{
		{"raw amount", []string{"amount=42"}, units{amountDecimals: 18, raw: true}, "amount", "42", false},
		{"order id is a number", []string{"orderId=12"}, units{}, "orderId", uint64(12), false},
		{"six decimal token", []string{"amount=2.25"}, units{amountDecimals: 6}, "amount", "2250000", false},
		{"too many decimals", []string{"price=0.0000000001"}, units{priceDecimals: 9}, "", nil, true},
		{"negative", []string{"amount=-1"}, units{amountDecimals: 18}, "", nil, true},
		{"not key=value", []string{"amount"}, units{}, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := buildBody(trader, 1, tt.args, tt.u)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("accepted %v", tt.args)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if body[tt.key] != tt.want {
				t.Errorf("%s = %#v, want %#v", tt.key, body[tt.key], tt.want)
			}
		})
	}
}
