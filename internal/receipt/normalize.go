package receipt

import "strings"

// Normalize applies the post-extraction fix-ups to r in place and returns it:
//   - when the return barcode flag is unset but a barcode value is present,
//     the flag is set to true (an explicit value is never overridden);
//   - the app-data section always exists.
//
// A nil receipt is returned unchanged.
func Normalize(r *Receipt) *Receipt {
	if r == nil {
		return nil
	}
	if ri := r.ReturnInfo; ri != nil && ri.HasReturnBarcode == nil && strings.TrimSpace(ri.ReturnBarcode) != "" {
		v := true
		ri.HasReturnBarcode = &v
	}
	if r.AppData == nil {
		r.AppData = &AppData{}
	}
	if r.Items == nil {
		r.Items = []LineItem{}
	}
	return r
}
