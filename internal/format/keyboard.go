package format

import (
	"fmt"

	"github.com/unpieceof/meemoo/internal/bus"
	"github.com/unpieceof/meemoo/internal/memo"
	"github.com/unpieceof/meemoo/internal/router"
)

// NoopData is the callback data of the page indicator button.
const NoopData = "noop"

// Telegram rejects callback data longer than 64 bytes.
const maxCallbackData = 64

// PageKeyboard builds prev / indicator / next buttons for a list or search
// page. Buttons that would leave the valid range are omitted, and nil is
// returned when everything fits on one page.
func PageKeyboard(kind router.LibKind, page, total, size int, query string) *bus.Keyboard {
	pages := memo.TotalPages(total, size)
	if pages <= 1 {
		return nil
	}

	var row []bus.Button
	if page > 0 {
		row = append(row, bus.Button{Text: "◀ 이전", Data: router.LibRequest{Kind: kind, Query: query, Page: page - 1}.Payload()})
	}
	row = append(row, bus.Button{Text: fmt.Sprintf("%d/%d", page+1, pages), Data: NoopData})
	if page < pages-1 {
		row = append(row, bus.Button{Text: "다음 ▶", Data: router.LibRequest{Kind: kind, Query: query, Page: page + 1}.Payload()})
	}

	for _, b := range row {
		if len(b.Data) > maxCallbackData {
			return nil
		}
	}
	return &bus.Keyboard{Rows: [][]bus.Button{row}}
}
