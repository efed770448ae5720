package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/ManuelReschke/HandlePay/internal/pkg/env"
)

// Stablecoin is a configured TIP-20 token.
type Stablecoin struct {
	Symbol   string `mapstructure:"symbol" json:"symbol"`
	Address  string `mapstructure:"address" json:"address"`
	Decimals int32  `mapstructure:"decimals" json:"decimals"`
}

// Stablecoins is the immutable token registry.
type Stablecoins struct {
	list []Stablecoin
}

// symbols that name the same token on different deployments
var symbolAliases = map[string]string{
	"pathusd": "iusd",
	"iusd":    "pathusd",
}

// NewStablecoins builds a registry; addresses are lower-cased.
func NewStablecoins(list []Stablecoin) (*Stablecoins, error) {
	if len(list) == 0 {
		return nil, errors.New("no token config found: set TOKEN_ADDRESSES_JSON, STABLECOINS_FILE or STABLE_ADDRESS")
	}
	out := make([]Stablecoin, 0, len(list))
	for _, s := range list {
		s.Symbol = strings.TrimSpace(s.Symbol)
		s.Address = strings.ToLower(strings.TrimSpace(s.Address))
		if s.Symbol == "" || s.Address == "" {
			return nil, fmt.Errorf("stablecoin entry %+v needs symbol and address", s)
		}
		if s.Decimals < 0 || s.Decimals > 36 {
			return nil, fmt.Errorf("stablecoin %s has invalid decimals %d", s.Symbol, s.Decimals)
		}
		out = append(out, s)
	}
	return &Stablecoins{list: out}, nil
}

// All returns the configured tokens in declaration order.
func (s *Stablecoins) All() []Stablecoin {
	return append([]Stablecoin(nil), s.list...)
}

// Addresses returns the lower-cased token contract addresses.
func (s *Stablecoins) Addresses() []string {
	out := make([]string, 0, len(s.list))
	for _, c := range s.list {
		out = append(out, c.Address)
	}
	return out
}

// Symbols lists the configured symbols, used in error messages.
func (s *Stablecoins) Symbols() []string {
	out := make([]string, 0, len(s.list))
	for _, c := range s.list {
		out = append(out, c.Symbol)
	}
	return out
}

// BySymbol matches case-insensitively, then through the alias table.
func (s *Stablecoins) BySymbol(symbol string) (Stablecoin, bool) {
	in := strings.ToLower(strings.TrimSpace(symbol))
	for _, c := range s.list {
		if strings.ToLower(c.Symbol) == in {
			return c, true
		}
	}
	if alias, ok := symbolAliases[in]; ok {
		for _, c := range s.list {
			if strings.ToLower(c.Symbol) == alias {
				return c, true
			}
		}
	}
	return Stablecoin{}, false
}

// ByAddress looks a token up by contract address.
func (s *Stablecoins) ByAddress(address string) (Stablecoin, bool) {
	in := strings.ToLower(strings.TrimSpace(address))
	for _, c := range s.list {
		if c.Address == in {
			return c, true
		}
	}
	return Stablecoin{}, false
}

// LoadStablecoins resolves the registry from TOKEN_ADDRESSES_JSON, a STABLECOINS_FILE
// read through viper, or the single STABLE_ADDRESS, in that order.
func LoadStablecoins() (*Stablecoins, error) {
	if raw := env.GetEnv("TOKEN_ADDRESSES_JSON", ""); raw != "" {
		var bySymbol map[string]string
		if err := json.Unmarshal([]byte(raw), &bySymbol); err != nil {
			return nil, fmt.Errorf("parse TOKEN_ADDRESSES_JSON: %w", err)
		}
		if len(bySymbol) > 0 {
			list := make([]Stablecoin, 0, len(bySymbol))
			for symbol, address := range bySymbol {
				list = append(list, Stablecoin{
					Symbol:   symbol,
					Address:  address,
					Decimals: int32(env.GetEnvInt64("TOKEN_DECIMALS_"+strings.ToUpper(symbol), 6)),
				})
			}
			sortBySymbol(list)
			return NewStablecoins(list)
		}
	}

	if path := env.GetEnv("STABLECOINS_FILE", ""); path != "" {
		return LoadStablecoinsFile(path)
	}

	if address := env.GetEnv("STABLE_ADDRESS", ""); address != "" {
		return NewStablecoins([]Stablecoin{{
			Symbol:   env.GetEnv("DEFAULT_STABLECOIN_SYMBOL", "iUSD"),
			Address:  address,
			Decimals: int32(env.GetEnvInt64("DEFAULT_STABLECOIN_DECIMALS", 6)),
		}})
	}

	return NewStablecoins(nil)
}

// LoadStablecoinsFile reads a YAML/JSON/TOML file with a top level "stablecoins" list.
func LoadStablecoinsFile(path string) (*Stablecoins, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read stablecoins file %s: %w", path, err)
	}
	var entries []struct {
		Symbol   string `mapstructure:"symbol"`
		Address  string `mapstructure:"address"`
		Decimals *int32 `mapstructure:"decimals"`
	}
	if err := v.UnmarshalKey("stablecoins", &entries); err != nil {
		return nil, fmt.Errorf("decode stablecoins file %s: %w", path, err)
	}
	list := make([]Stablecoin, 0, len(entries))
	for _, e := range entries {
		decimals := int32(6)
		if e.Decimals != nil {
			decimals = *e.Decimals
		}
		list = append(list, Stablecoin{Symbol: e.Symbol, Address: e.Address, Decimals: decimals})
	}
	return NewStablecoins(list)
}

// map iteration order is random; keep the registry deterministic
func sortBySymbol(list []Stablecoin) {
	sort.Slice(list, func(i, j int) bool {
		return strings.ToLower(list[i].Symbol) < strings.ToLower(list[j].Symbol)
	})
}
