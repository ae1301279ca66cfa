package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/escrowdex/pkg/chain"
)

// Default development identities. The deployer is the account of the
// well-known development key 0xac0974be...ff80.
var (
	DefaultDeployer   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	DefaultFeeAccount = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type Node struct {
	DBPath   string // empty keeps the journal in memory
	APIAddr  string
	LogFile  string
	LogLevel string // debug, info, warn, error
}

type API struct {
	CORSOrigins []string
}

type Config struct {
	Genesis chain.Genesis
	Node    Node
	API     API
}

func Default() Config {
	return Config{
		Genesis: chain.Genesis{
			Deployer:   DefaultDeployer,
			FeeAccount: DefaultFeeAccount,
			FeePercent: 10,
		},
		Node: Node{
			DBPath:   "data/journal",
			APIAddr:  ":8080",
			LogFile:  "data/node.log",
			LogLevel: "info",
		},
		API: API{
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.Node.DBPath = v
	}
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	if v := os.Getenv("DEPLOYER"); v != "" {
		addr, err := parseAddress("DEPLOYER", v)
		if err != nil {
			return Config{}, err
		}
		cfg.Genesis.Deployer = addr
	}
	if v := os.Getenv("FEE_ACCOUNT"); v != "" {
		addr, err := parseAddress("FEE_ACCOUNT", v)
		if err != nil {
			return Config{}, err
		}
		cfg.Genesis.FeeAccount = addr
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		pct, err := strconv.ParseUint(v, 10, 64)
		if err != nil || pct > 100 {
			return Config{}, fmt.Errorf("FEE_PERCENT: want 0-100, got %q", v)
		}
		cfg.Genesis.FeePercent = pct
	}

	// Example: "http://localhost:3000,https://app.example.com"
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.API.CORSOrigins = origins
	}

	return cfg, nil
}

func parseAddress(key, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", key, v)
	}
	return common.HexToAddress(v), nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
