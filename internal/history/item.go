package history

import (
	"errors"
	"fmt"

	"github.com/multidoc/gateway/internal/model"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Item is one history entry, a JSON object with at least the prompt and
// response keys. Other keys sent by the client are kept as they are.
type Item struct {
	raw []byte
}

// ParseItem validates data and returns it as an Item. It fails with
// model.ErrInvalidItem unless data is an object with prompt and response keys.
func ParseItem(data []byte) (Item, error) {
	if !gjson.ValidBytes(data) {
		return Item{}, fmt.Errorf("%w: invalid JSON", model.ErrInvalidItem)
	}
	obj := gjson.ParseBytes(data)
	if !obj.IsObject() {
		return Item{}, fmt.Errorf("%w: expected an object, got %s", model.ErrInvalidItem, obj.Type)
	}
	for _, key := range []string{"prompt", "response"} {
		if !obj.Get(key).Exists() {
			return Item{}, fmt.Errorf("%w: missing %s", model.ErrInvalidItem, key)
		}
	}
	return Item{raw: append([]byte(nil), obj.Raw...)}, nil
}

// NewItem builds an Item from a prompt and the tool's response.
func NewItem(prompt, response string) (Item, error) {
	raw, err := sjson.SetBytes([]byte(`{}`), "prompt", prompt)
	if err != nil {
		return Item{}, err
	}
	raw, err = sjson.SetBytes(raw, "response", response)
	if err != nil {
		return Item{}, err
	}
	return Item{raw: raw}, nil
}

func (i Item) Prompt() string {
	return gjson.GetBytes(i.raw, "prompt").String()
}

func (i Item) Response() string {
	return gjson.GetBytes(i.raw, "response").String()
}

// Get returns the value of any key in the item, using gjson path syntax.
func (i Item) Get(path string) gjson.Result {
	return gjson.GetBytes(i.raw, path)
}

// Bytes returns the JSON encoding of the item.
func (i Item) Bytes() []byte {
	return append([]byte(nil), i.raw...)
}

func (i Item) MarshalJSON() ([]byte, error) {
	if len(i.raw) == 0 {
		return []byte("null"), nil
	}
	return i.Bytes(), nil
}

func (i *Item) UnmarshalJSON(data []byte) error {
	item, err := ParseItem(data)
	if err != nil {
		return err
	}
	*i = item
	return nil
}

// parseItems returns the items of a JSON array. Elements which are not valid
// items are skipped and counted.
func parseItems(data []byte) (items []Item, skipped int, err error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, errors.New("invalid JSON")
	}
	arr := gjson.ParseBytes(data)
	if !arr.IsArray() {
		return nil, 0, fmt.Errorf("expected an array, got %s", arr.Type)
	}
	items = []Item{}
	arr.ForEach(func(_, value gjson.Result) bool {
		item, err := ParseItem([]byte(value.Raw))
		if err != nil {
			skipped++
			return true
		}
		items = append(items, item)
		return true
	})
	return items, skipped, nil
}
