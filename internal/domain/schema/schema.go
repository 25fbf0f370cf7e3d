// Package schema describes the property shape of the external record store.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind tags a property value.
type Kind string

// Property kinds understood by the record store.
const (
	KindTitle       Kind = "title"
	KindRichText    Kind = "rich_text"
	KindNumber      Kind = "number"
	KindDate        Kind = "date"
	KindSelect      Kind = "select"
	KindMultiSelect Kind = "multi_select"
	KindCheckbox    Kind = "checkbox"
	KindURL         Kind = "url"
	KindEmail       Kind = "email"
	KindPhone       Kind = "phone"
	KindRelation    Kind = "relation"
)

// IsValid checks if the kind is supported.
func (k Kind) IsValid() bool {
	switch k {
	case KindTitle, KindRichText, KindNumber, KindDate, KindSelect, KindMultiSelect,
		KindCheckbox, KindURL, KindEmail, KindPhone, KindRelation:
		return true
	}
	return false
}

// Value is a tagged union. Which payload field is meaningful depends on Kind:
// Number for number, Bool for checkbox, Items for multi_select and relation,
// Text for everything else.
type Value struct {
	Kind   Kind
	Text   string
	Number decimal.Decimal
	Bool   bool
	Items  []string
}

// Title builds a title value.
func Title(s string) Value { return Value{Kind: KindTitle, Text: s} }

// RichText builds a rich_text value.
func RichText(s string) Value { return Value{Kind: KindRichText, Text: s} }

// Number builds a number value.
func Number(d decimal.Decimal) Value { return Value{Kind: KindNumber, Number: d} }

// Date builds a date value from an ISO date.
func Date(iso string) Value { return Value{Kind: KindDate, Text: iso} }

// Select builds a select value.
func Select(s string) Value { return Value{Kind: KindSelect, Text: s} }

// MultiSelect builds a multi_select value.
func MultiSelect(items ...string) Value { return Value{Kind: KindMultiSelect, Items: items} }

// Checkbox builds a checkbox value.
func Checkbox(b bool) Value { return Value{Kind: KindCheckbox, Bool: b} }

// URL builds a url value.
func URL(s string) Value { return Value{Kind: KindURL, Text: s} }

// Email builds an email value.
func Email(s string) Value { return Value{Kind: KindEmail, Text: s} }

// Phone builds a phone value.
func Phone(s string) Value { return Value{Kind: KindPhone, Text: s} }

// Relation builds a relation value from page ids or names.
func Relation(ids ...string) Value { return Value{Kind: KindRelation, Items: ids} }

type wireValue struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON emits {"type": kind, "value": payload}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload []byte
	var err error
	switch v.Kind {
	case KindNumber:
		payload = []byte(v.Number.String())
	case KindCheckbox:
		payload, err = json.Marshal(v.Bool)
	case KindMultiSelect, KindRelation:
		items := v.Items
		if items == nil {
			items = []string{}
		}
		payload, err = json.Marshal(items)
	default:
		if !v.Kind.IsValid() {
			return nil, fmt.Errorf("schema: unknown value kind %q", v.Kind)
		}
		payload, err = json.Marshal(v.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Kind, Value: payload})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Type.IsValid() {
		return fmt.Errorf("schema: unknown value kind %q", w.Type)
	}
	out := Value{Kind: w.Type}
	var err error
	switch w.Type {
	case KindNumber:
		out.Number, err = decimal.NewFromString(string(w.Value))
	case KindCheckbox:
		err = json.Unmarshal(w.Value, &out.Bool)
	case KindMultiSelect, KindRelation:
		err = json.Unmarshal(w.Value, &out.Items)
	default:
		err = json.Unmarshal(w.Value, &out.Text)
	}
	if err != nil {
		return fmt.Errorf("schema: %s value: %w", w.Type, err)
	}
	*v = out
	return nil
}

// Mapping is the property set for one record in a target collection.
type Mapping struct {
	TargetCollection string           `json:"target_collection"`
	Properties       map[string]Value `json:"properties"`
}
