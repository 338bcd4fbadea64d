package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind indicates whether an order offers to buy or to sell.
type Kind string

const (
	KindBuy  Kind = "buy"
	KindSell Kind = "sell"
)

// Kinds returns every known Kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindBuy, KindSell}
}

// ParseKind maps a lowercase tag onto a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &DecodeError{Value: s, Allowed: []string{string(KindBuy), string(KindSell)}}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kind %q", string(k))
	}
	return []byte(k), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Currency is the denomination of an amount.
type Currency string

const (
	CurrencySat Currency = "sat"
	CurrencyBrl Currency = "brl"
	CurrencyUsd Currency = "usd"
	CurrencyEur Currency = "eur"
	CurrencyChf Currency = "chf"
)

// Currencies returns every known Currency in declaration order.
func Currencies() []Currency {
	return []Currency{CurrencySat, CurrencyBrl, CurrencyUsd, CurrencyEur, CurrencyChf}
}

// ParseCurrency maps a lowercase tag onto a Currency.
func ParseCurrency(s string) (Currency, error) {
	all := Currencies()
	for _, c := range all {
		if string(c) == s {
			return c, nil
		}
	}
	allowed := make([]string, len(all))
	for i, c := range all {
		allowed[i] = string(c)
	}
	return "", &DecodeError{Value: s, Allowed: allowed}
}

// Valid reports whether c is one of the known currencies.
func (c Currency) Valid() bool {
	_, err := ParseCurrency(string(c))
	return err == nil
}

func (c Currency) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid currency %q", string(c))
	}
	return []byte(c), nil
}

func (c *Currency) UnmarshalText(b []byte) error {
	parsed, err := ParseCurrency(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Order is a persisted offer to exchange MakeAmount of MakeDenomination
// for TakeAmount of TakeDenomination. ID is assigned by the server.
type Order struct {
	ID               string   `json:"id"`
	Kind             Kind     `json:"kind"`
	MakeAmount       float32  `json:"make_amount"`
	MakeDenomination Currency `json:"make_denomination"`
	TakeAmount       float32  `json:"take_amount"`
	TakeDenomination Currency `json:"take_denomination"`
}

// OrderRequest carries the client-supplied fields of a new order.
type OrderRequest struct {
	Kind             Kind     `json:"kind"`
	MakeAmount       float32  `json:"make_amount"`
	MakeDenomination Currency `json:"make_denomination"`
	TakeAmount       float32  `json:"take_amount"`
	TakeDenomination Currency `json:"take_denomination"`
}

// WithID builds the Order this request describes under the given id.
func (r OrderRequest) WithID(id string) Order {
	return Order{
		ID:               id,
		Kind:             r.Kind,
		MakeAmount:       r.MakeAmount,
		MakeDenomination: r.MakeDenomination,
		TakeAmount:       r.TakeAmount,
		TakeDenomination: r.TakeDenomination,
	}
}

// DecodeOrderRequest parses a JSON body into an OrderRequest. Every field
// is required and keys match exactly, case included; unknown fields are
// ignored. Amounts are not range checked.
func DecodeOrderRequest(body []byte) (OrderRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &fields); err != nil {
		return OrderRequest{}, err
	}

	var req OrderRequest
	for _, f := range []struct {
		name string
		dst  any
	}{
		{"kind", &req.Kind},
		{"make_amount", &req.MakeAmount},
		{"make_denomination", &req.MakeDenomination},
		{"take_amount", &req.TakeAmount},
		{"take_denomination", &req.TakeDenomination},
	} {
		raw, ok := fields[f.name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return OrderRequest{}, &DecodeError{Field: f.name, Missing: true}
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				if decodeErr.Field == "" {
					decodeErr.Field = f.name
				}
				return OrderRequest{}, err
			}
			return OrderRequest{}, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return req, nil
}
