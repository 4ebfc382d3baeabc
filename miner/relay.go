package miner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"

	"github.com/ybbus/jsonrpc/v3"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/tonyke-bot/ore-miner/ore"
)

var ErrNoTipRecipients = errors.New("relay config has no tip recipients")

// DefaultTipRecipients is the relay operator's published recipient set,
// used when the config file does not override it.
var DefaultTipRecipients = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// RelayConfig describes the relay endpoint and its tip recipient set.
type RelayConfig struct {
	URL           string   `yaml:"url"`
	RateLimit     float64  `yaml:"rate_limit"`
	TipRecipients []string `yaml:"tip_recipients"`
}

// LoadRelayConfig parses a relay config from a file. A missing recipient set
// falls back to the published defaults.
func LoadRelayConfig(file string) (RelayConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return RelayConfig{}, err
	}
	var config RelayConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return RelayConfig{}, err
	}
	if config.URL == "" {
		return RelayConfig{}, errors.New("relay config is missing url")
	}
	if len(config.TipRecipients) == 0 {
		config.TipRecipients = DefaultTipRecipients
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	return config, nil
}

// RelayClient submits bundles through the low-latency relay. Submissions are
// rate limited to the relay's published call budget.
type RelayClient struct {
	client     jsonrpc.RPCClient
	limiter    *rate.Limiter
	recipients []ore.Pubkey
}

func NewRelayClient(config RelayConfig) (*RelayClient, error) {
	if len(config.TipRecipients) == 0 {
		return nil, ErrNoTipRecipients
	}
	recipients := make([]ore.Pubkey, 0, len(config.TipRecipients))
	for _, raw := range config.TipRecipients {
		p, err := ore.ParsePubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("tip recipient: %w", err)
		}
		recipients = append(recipients, p)
	}
	return &RelayClient{
		client:     jsonrpc.NewClient(config.URL),
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		recipients: recipients,
	}, nil
}

// PickTipRecipient returns a pseudo-random member of the recipient set.
func (r *RelayClient) PickTipRecipient() ore.Pubkey {
	return r.recipients[rand.Intn(len(r.recipients))]
}

// SendBundle submits the transactions as one atomic relay unit. It returns
// the caller-side tracking signature (the first signature of the first
// transaction) and the relay's opaque bundle id.
func (r *RelayClient) SendBundle(ctx context.Context, txs []*ore.Transaction) (ore.Signature, string, error) {
	if len(txs) == 0 || len(txs[0].Signatures) == 0 {
		return ore.Signature{}, "", ErrEmptyBundle
	}
	signature := txs[0].Signatures[0]

	if err := r.limiter.Wait(ctx); err != nil {
		return signature, "", err
	}

	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = tx.EncodeBase58()
	}

	var bundleID string
	err := r.client.CallFor(ctx, &bundleID, "sendBundle", [][]string{encoded})
	if err != nil {
		return signature, "", fmt.Errorf("sendBundle: %w", err)
	}
	return signature, bundleID, nil
}
