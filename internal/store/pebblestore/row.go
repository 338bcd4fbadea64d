package pebblestore

import (
	"errors"
	"fmt"

	"github.com/efreitasn/granola/internal/domain"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Column names match the relational schema used by the postgres backend.
const (
	colID               = "id"
	colKind             = "kind"
	colMakeAmount       = "make_amount"
	colMakeDenomination = "make_denomination"
	colTakeAmount       = "take_amount"
	colTakeDenomination = "take_denomination"
)

// encodeRow stores an order as a protobuf Struct, one field per column,
// with enums as their lowercase tags.
func encodeRow(o domain.Order) ([]byte, error) {
	kind, err := o.Kind.MarshalText()
	if err != nil {
		return nil, err
	}
	makeDen, err := o.MakeDenomination.MarshalText()
	if err != nil {
		return nil, err
	}
	takeDen, err := o.TakeDenomination.MarshalText()
	if err != nil {
		return nil, err
	}

	row, err := structpb.NewStruct(map[string]any{
		colID:               o.ID,
		colKind:             string(kind),
		colMakeAmount:       float64(o.MakeAmount),
		colMakeDenomination: string(makeDen),
		colTakeAmount:       float64(o.TakeAmount),
		colTakeDenomination: string(takeDen),
	})
	if err != nil {
		return nil, fmt.Errorf("build row: %w", err)
	}
	return proto.Marshal(row)
}

func decodeRow(b []byte) (domain.Order, error) {
	var row structpb.Struct
	if err := proto.Unmarshal(b, &row); err != nil {
		return domain.Order{}, fmt.Errorf("unmarshal row: %w", err)
	}
	cols := row.GetFields()

	id, err := stringColumn(cols, colID)
	if err != nil {
		return domain.Order{}, err
	}
	kindTag, err := stringColumn(cols, colKind)
	if err != nil {
		return domain.Order{}, err
	}
	kind, err := domain.ParseKind(kindTag)
	if err != nil {
		return domain.Order{}, withField(err, colKind)
	}
	makeAmount, err := numberColumn(cols, colMakeAmount)
	if err != nil {
		return domain.Order{}, err
	}
	makeDen, err := currencyColumn(cols, colMakeDenomination)
	if err != nil {
		return domain.Order{}, err
	}
	takeAmount, err := numberColumn(cols, colTakeAmount)
	if err != nil {
		return domain.Order{}, err
	}
	takeDen, err := currencyColumn(cols, colTakeDenomination)
	if err != nil {
		return domain.Order{}, err
	}

	return domain.Order{
		ID:               id,
		Kind:             kind,
		MakeAmount:       makeAmount,
		MakeDenomination: makeDen,
		TakeAmount:       takeAmount,
		TakeDenomination: takeDen,
	}, nil
}

func stringColumn(cols map[string]*structpb.Value, name string) (string, error) {
	v, ok := cols[name]
	if !ok {
		return "", &domain.DecodeError{Field: name, Missing: true}
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("column %s is not text", name)
	}
	return s.StringValue, nil
}

func numberColumn(cols map[string]*structpb.Value, name string) (float32, error) {
	v, ok := cols[name]
	if !ok {
		return 0, &domain.DecodeError{Field: name, Missing: true}
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("column %s is not a number", name)
	}
	return float32(n.NumberValue), nil
}

func currencyColumn(cols map[string]*structpb.Value, name string) (domain.Currency, error) {
	tag, err := stringColumn(cols, name)
	if err != nil {
		return "", err
	}
	c, err := domain.ParseCurrency(tag)
	if err != nil {
		return "", withField(err, name)
	}
	return c, nil
}

func withField(err error, name string) error {
	var decodeErr *domain.DecodeError
	if errors.As(err, &decodeErr) {
		decodeErr.Field = name
	}
	return err
}
