package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Exchange struct {
	// FeeAccount receives the fill fee in the order's give asset
	FeeAccount string
	// FeePercent is an integer percentage (0-100) of amountGive charged per fill
	FeePercent uint64
	// Address is the exchange's own custody account on the token ledgers
	Address string
}

type Node struct {
	DataDir     string
	APIAddr     string
	LogFile     string
	CallJournal string // append-only journal of accepted signed calls
	ChainID     int64  // EIP-712 domain chain id
	Verbose     bool
}

type Kafka struct {
	Brokers []string // empty disables the event publisher
	Topic   string
}

// Devnet seeds the collaborator ledgers on first boot.
//
// Deployer receives the full supply of the devnet token (1,000,000 DAPP),
// Faucet maps addresses to a native-asset balance in wei.
type Devnet struct {
	Deployer string
	Faucet   map[string]string
}

type Config struct {
	Exchange Exchange
	Node     Node
	Kafka    Kafka
	Devnet   Devnet
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeAccount: "0xFEE0000000000000000000000000000000000000",
			FeePercent: 10,
			Address:    "0xE8C0000000000000000000000000000000000000",
		},
		Node: Node{
			DataDir:     "data/exchange.db",
			APIAddr:     ":8080",
			LogFile:     "data/node.log",
			CallJournal: "data/calls.log",
			ChainID:     1337, // Local dev chain
		},
		Kafka: Kafka{
			Topic: "escrowdex.events",
		},
		Devnet: Devnet{
			Deployer: "0xDE00000000000000000000000000000000000000",
			Faucet:   map[string]string{},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Exchange.FeeAccount = getEnv("FEE_ACCOUNT", cfg.Exchange.FeeAccount)
	cfg.Exchange.Address = getEnv("EXCHANGE_ADDRESS", cfg.Exchange.Address)
	if pct := os.Getenv("FEE_PERCENT"); pct != "" {
		if v, err := strconv.ParseUint(pct, 10, 64); err == nil {
			cfg.Exchange.FeePercent = v
		}
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.CallJournal = getEnv("CALL_JOURNAL", cfg.Node.CallJournal)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Node.ChainID = v
		}
	}
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"

	// Brokers from comma-separated list
	// Example: "localhost:9092,localhost:9093"
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Devnet.Deployer = getEnv("DEVNET_DEPLOYER", cfg.Devnet.Deployer)
	// Example: "0xAA..=1000000000000000000,0xBB..=5000000000000000000"
	if faucet := os.Getenv("DEVNET_FAUCET"); faucet != "" {
		for _, entry := range splitList(faucet) {
			addr, amount, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			cfg.Devnet.Faucet[strings.TrimSpace(addr)] = strings.TrimSpace(amount)
		}
	}

	return cfg
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
