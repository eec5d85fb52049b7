// Command sign-request prints a signed API request body and the matching
// X-Signature header, for poking the node with curl.
//
//	sign-request -key 0xac09... -path /api/v1/orders/limit -nonce 1 \
//	    base=BLUE quote=USDT side=buy amount=1 price=10
//
// amount and price are human numbers converted to base units with
// -amount-decimals and -price-decimals; -raw sends them unchanged.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/spotdex/pkg/crypto"
	"github.com/uhyunpark/spotdex/pkg/util"
)

// unitFields are the request fields holding token quantities.
var unitFields = map[string]bool{"amount": true, "price": true}

type units struct {
	amountDecimals int32
	priceDecimals  int32
	raw            bool
}

func (u units) decimals(field string) int32 {
	if field == "price" {
		return u.priceDecimals
	}
	return u.amountDecimals
}

// buildBody assembles the request body from key=value arguments.
func buildBody(trader common.Address, nonce uint64, args []string, u units) (map[string]any, error) {
	body := map[string]any{
		"trader": trader.Hex(),
		"nonce":  nonce,
	}
	for _, kv := range args {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q is not key=value", kv)
		}
		// numeric ids (orderId) go out as JSON numbers
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && strings.HasSuffix(k, "Id") {
			body[k] = n
			continue
		}
		if unitFields[k] && !u.raw {
			base, err := util.ParseUnits(v, u.decimals(k))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			v = base.Dec()
		}
		body[k] = v
	}
	return body, nil
}

func main() {
	keyHex := flag.String("key", os.Getenv("TRADER_KEY"), "hex private key (a new key is generated when empty)")
	path := flag.String("path", "/api/v1/deposits", "API path the request is for")
	nonce := flag.Uint64("nonce", uint64(time.Now().UnixMilli()), "request nonce, must increase per trader")
	api := flag.String("api", "http://localhost:8080", "API base URL")
	amountDecimals := flag.Int("amount-decimals", 18, "decimals of token amounts")
	priceDecimals := flag.Int("price-decimals", 9, "decimals of prices (PRICE_DECIMALS of the node)")
	raw := flag.Bool("raw", false, "send amount and price as base units")
	flag.Parse()
	u := units{amountDecimals: int32(*amountDecimals), priceDecimals: int32(*priceDecimals), raw: *raw}

	signer, err := loadSigner(*keyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	body, err := buildBody(signer.Address(), *nonce, flag.Args(), u)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	sig, err := signer.SignText(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing: %v\n", err)
		os.Exit(1)
	}

	recovered, err := crypto.RecoverText(payload, sig)
	if err != nil || recovered != signer.Address() {
		fmt.Fprintf(os.Stderr, "Error: signature does not verify (%v)\n", err)
		os.Exit(1)
	}

	fmt.Printf("Trader:    %s\n", signer.Address().Hex())
	fmt.Printf("Body:      %s\n", payload)
	for _, k := range []string{"amount", "price"} {
		v, ok := body[k].(string)
		if !ok {
			continue
		}
		if base, err := util.ParseUnits(v, 0); err == nil {
			fmt.Printf("  %s: %s base units = %s\n", k, v, util.FormatUnits(base, u.decimals(k)))
		}
	}
	fmt.Printf("Signature: %s\n\n", sig)
	fmt.Println("Submit with:")
	fmt.Printf("  curl -X POST %s%s \\\n", *api, *path)
	fmt.Println("    -H 'Content-Type: application/json' \\")
	fmt.Printf("    -H 'X-Signature: %s' \\\n", sig)
	fmt.Printf("    -d '%s'\n", payload)
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex != "" {
		return crypto.FromPrivateKeyHex(keyHex)
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Generated key %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	return signer, nil
}
