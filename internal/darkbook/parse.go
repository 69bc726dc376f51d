package darkbook

import (
	"fmt"
	"strconv"
	"strings"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

// Parse reads a revealed order list of the form "bid:10000:100;ask:5:42.5".
// An empty plaintext is an empty list.
func Parse(plaintext []byte) ([]Order, error) {
	text := strings.TrimSpace(string(plaintext))
	if text == "" {
		return nil, nil
	}
	items := strings.Split(text, ";")
	orders := make([]Order, 0, len(items))
	for i, item := range items {
		fields := strings.Split(strings.TrimSpace(item), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: order %d: want kind:volume:price", ErrDecrypt, i)
		}
		side, err := ParseSide(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: order %d: %v", ErrDecrypt, i, err)
		}
		volume, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: order %d: volume: %v", ErrDecrypt, i, err)
		}
		price, err := strconv.ParseFloat(fields[2], 64)
		if err != nil || !ValidPrice(price) {
			return nil, fmt.Errorf("%w: order %d: bad price %q", ErrDecrypt, i, fields[2])
		}
		orders = append(orders, Order{Side: side, Volume: volume, Price: price})
	}
	return orders, nil
}

// Format is the inverse of Parse.
func Format(orders []Order) []byte {
	items := make([]string, len(orders))
	for i, o := range orders {
		items[i] = fmt.Sprintf("%s:%d:%s", o.Side, o.Volume, strconv.FormatFloat(o.Price, 'f', -1, 64))
	}
	return []byte(strings.Join(items, ";"))
}
