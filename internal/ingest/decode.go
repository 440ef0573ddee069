package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrMalformed marks a message that can never be handled, however often it
// is redelivered.
var ErrMalformed = errors.New("malformed message")

// notification is the fan-out wrapper some publishers put around events.
type notification struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	Message   string `json:"Message"`
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Meta    Meta            `json:"meta"`
}

// Decoder turns raw message bodies into events.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder returns a Decoder whose validator understands decimal amounts.
func NewDecoder() *Decoder {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return &Decoder{validate: v}
}

// unwrap strips a notification wrapper if present.
func unwrap(body []byte) []byte {
	var n notification
	if err := json.Unmarshal(body, &n); err == nil && n.Type == "Notification" && n.Message != "" {
		return []byte(n.Message)
	}
	return body
}

// Decode parses body into one of the Event types. Unknown types decode to
// UnknownEvent; anything unparseable or invalid wraps ErrMalformed.
func (d *Decoder) Decode(body []byte) (Event, Meta, error) {
	var env envelope
	if err := json.Unmarshal(unwrap(body), &env); err != nil {
		return nil, Meta{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, env.Meta, fmt.Errorf("%w: missing event type", ErrMalformed)
	}

	var evt Event
	switch env.Type {
	case TypeWalletCredited:
		evt = &WalletCredited{}
	case TypeAllocateToInstallments:
		evt = &AllocateToInstallments{}
	case TypeProcessInstallmentPayment:
		evt = &ProcessInstallmentPayment{}
	case TypePaymentPhaseActivated:
		evt = &PaymentPhaseActivated{}
	default:
		return UnknownEvent{Type: env.Type}, env.Meta, nil
	}
	if len(env.Payload) == 0 {
		return nil, env.Meta, fmt.Errorf("%w: %s without payload", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Payload, evt); err != nil {
		return nil, env.Meta, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	if err := d.validate.Struct(evt); err != nil {
		return nil, env.Meta, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return deref(evt), env.Meta, nil
}

func deref(evt Event) Event {
	switch e := evt.(type) {
	case *WalletCredited:
		return *e
	case *AllocateToInstallments:
		return *e
	case *ProcessInstallmentPayment:
		return *e
	case *PaymentPhaseActivated:
		return *e
	}
	return evt
}
