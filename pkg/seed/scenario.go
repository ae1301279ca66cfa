// Package seed populates a runtime with a scripted market: token
// deployments, transfers, deposits and orders described in YAML.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/escrowdex/pkg/app/core/amount"
)

//go:embed default.yaml
var defaultScenario []byte

// Scenario is a seed script.
type Scenario struct {
	// Accounts maps a name to a hex private key.
	Accounts map[string]string `yaml:"accounts"`
	Tokens   []TokenDef       `yaml:"tokens"`
	Steps    []Step            `yaml:"steps"`
}

// TokenDef deploys one token. Supply is a decimal quantity.
type TokenDef struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Supply   string `yaml:"supply"`
	Deployer string `yaml:"deployer"`
}

// Leg is one side of an order.
type Leg struct {
	Token  string `yaml:"token"`
	Amount string `yaml:"amount"`
}

// Step is one operation. Token fields name a symbol from Tokens, account
// fields name an entry of Accounts or the literal "exchange". Order is a
// prior order's alias, a numeric id, or "$last".
type Step struct {
	Op      string `yaml:"op"`
	From    string `yaml:"from"`
	Token   string `yaml:"token"`
	To      string `yaml:"to"`
	Owner   string `yaml:"owner"`
	Spender string `yaml:"spender"`
	Amount  string `yaml:"amount"`
	Get     Leg    `yaml:"get"`
	Give    Leg    `yaml:"give"`
	Alias   string `yaml:"as"`
	Order   string `yaml:"order"`

	// op: repeat
	Times int    `yaml:"times"`
	Steps []Step `yaml:"steps"`
}

// Default returns the embedded scenario.
func Default() (*Scenario, error) {
	return Parse(defaultScenario)
}

// Load reads a scenario file. Environment variables in the file are
// expanded before parsing.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(b))))
}

// Parse decodes and validates a scenario.
func Parse(b []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	symbols := make(map[string]bool)
	for _, t := range sc.Tokens {
		if t.Symbol == "" || t.Name == "" {
			return fmt.Errorf("token %q: symbol and name required", t.Symbol)
		}
		if symbols[t.Symbol] {
			return fmt.Errorf("token %q declared twice", t.Symbol)
		}
		symbols[t.Symbol] = true
		if _, ok := sc.Accounts[t.Deployer]; !ok {
			return fmt.Errorf("token %q: unknown deployer %q", t.Symbol, t.Deployer)
		}
		if _, err := amount.Parse(t.Supply); err != nil {
			return fmt.Errorf("token %q: %w", t.Symbol, err)
		}
	}
	return validateSteps(sc.Steps, "steps")
}

func validateSteps(steps []Step, path string) error {
	for i, st := range steps {
		where := fmt.Sprintf("%s[%d]", path, i)
		switch st.Op {
		case "transfer", "approve", "transferFrom", "deposit", "withdraw",
			"makeOrder", "cancelOrder", "fillOrder":
			if st.From == "" {
				return fmt.Errorf("%s: %s needs from", where, st.Op)
			}
		case "repeat":
			if st.Times <= 0 || len(st.Steps) == 0 {
				return fmt.Errorf("%s: repeat needs times and steps", where)
			}
			if err := validateSteps(st.Steps, where+".steps"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: unknown op %q", where, st.Op)
		}
	}
	return nil
}

// evalAmount parses a decimal quantity. Inside a repeat, "{i}" is the
// 1-based iteration and factors may be multiplied with "*", as in "10*{i}".
func evalAmount(expr string, iter int) (*uint256.Int, error) {
	expr = strings.ReplaceAll(expr, "{i}", strconv.Itoa(iter))
	product := decimal.NewFromInt(1)
	for _, f := range strings.Split(expr, "*") {
		d, err := decimal.NewFromString(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", expr, err)
		}
		product = product.Mul(d)
	}
	return amount.Parse(product.String())
}
