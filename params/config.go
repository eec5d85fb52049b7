package params

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Exchange struct {
	NativeTicker  string
	PriceDecimals uint8
	// QuoteTickers are approved at boot, after MemoryTokens and ERC20Tokens
	// are registered.
	QuoteTickers []string
	// MemoryTokens are in-process tokens for devnets and tests.
	MemoryTokens []string
	// ERC20Tokens maps ticker to contract address ("USDT=0xdAC1...").
	ERC20Tokens map[string]string
}

// ERC20Symbols returns the ERC20Tokens keys sorted, so a fresh store
// registers them in the same order on every boot.
func (e Exchange) ERC20Symbols() []string {
	out := make([]string, 0, len(e.ERC20Tokens))
	for name := range e.ERC20Tokens {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type Chain struct {
	RPCURL     string
	ChainID    int64
	CustodyKey string // hex private key of the custody account
	// ConfirmTimeout bounds the receipt wait of a custody transfer; past it
	// the transfer is tracked in the background.
	ConfirmTimeout time.Duration
}

type API struct {
	Addr           string
	AllowedOrigins []string
	// AdminAddress signs ticker registration, quote approval and native receipts.
	AdminAddress string
	DevFaucet    bool
}

type Events struct {
	KafkaBrokers []string
	KafkaTopic   string
	// Buffer is the event backlog, in batches, above which the dispatcher warns.
	Buffer int
}

type Node struct {
	DataDir  string
	LogFile  string
	LogLevel string
	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration
}

type Config struct {
	Exchange Exchange
	Chain    Chain
	API      API
	Events   Events
	Node     Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			NativeTicker:  "ETH",
			PriceDecimals: 9,
			QuoteTickers:  []string{"USDT"},
			MemoryTokens:  []string{"BLUE", "CYAN", "PINK", "RED", "USDT"},
			ERC20Tokens:   map[string]string{},
		},
		Chain: Chain{
			ChainID:        1337,
			ConfirmTimeout: 30 * time.Second,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			DevFaucet:      true,
		},
		Events: Events{
			KafkaTopic: "spotdex.events",
			Buffer:     1024,
		},
		Node: Node{
			DataDir:         "./data/spotdex",
			LogFile:         "./logs/node.log",
			LogLevel:        "info",
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Exchange.NativeTicker = getEnv("NATIVE_TICKER", cfg.Exchange.NativeTicker)
	if v := os.Getenv("PRICE_DECIMALS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil || n > 36 {
			return cfg, fmt.Errorf("PRICE_DECIMALS=%q: want 0..36", v)
		}
		cfg.Exchange.PriceDecimals = uint8(n)
	}
	if v, ok := os.LookupEnv("QUOTE_TICKERS"); ok {
		cfg.Exchange.QuoteTickers = splitList(v)
	}
	if v, ok := os.LookupEnv("MEMORY_TOKENS"); ok {
		cfg.Exchange.MemoryTokens = splitList(v)
	}
	if v := os.Getenv("ERC20_TOKENS"); v != "" {
		tokens, err := parsePairs(v)
		if err != nil {
			return cfg, fmt.Errorf("ERC20_TOKENS: %w", err)
		}
		cfg.Exchange.ERC20Tokens = tokens
	}

	cfg.Chain.RPCURL = os.Getenv("CHAIN_RPC_URL")
	cfg.Chain.CustodyKey = os.Getenv("CUSTODY_KEY")
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHAIN_ID=%q: %w", v, err)
		}
		cfg.Chain.ChainID = id
	}
	if v := os.Getenv("CHAIN_CONFIRM_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return cfg, fmt.Errorf("CHAIN_CONFIRM_TIMEOUT_MS=%q: want a positive integer", v)
		}
		cfg.Chain.ConfirmTimeout = time.Duration(ms) * time.Millisecond
	}
	if len(cfg.Exchange.ERC20Tokens) > 0 && (cfg.Chain.RPCURL == "" || cfg.Chain.CustodyKey == "") {
		return cfg, fmt.Errorf("ERC20_TOKENS needs CHAIN_RPC_URL and CUSTODY_KEY")
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.AdminAddress = os.Getenv("ADMIN_ADDRESS")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DEV_FAUCET"); v != "" {
		cfg.API.DevFaucet = v == "true"
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v)
	}
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if v := os.Getenv("SHUTDOWN_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Node.ShutdownTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePairs reads "A=x,B=y".
func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range splitList(s) {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("entry %q: want TICKER=value", part)
		}
		out[k] = v
	}
	return out, nil
}
