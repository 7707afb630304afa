package notifications

import (
	"strconv"
	"strings"
)

// Callback data prefixes carried by inline buttons.
const (
	RefDeactivate = "deactivate_request_"
	RefKeep       = "keep_request_"
	RefFrom       = "from_"
	RefTo         = "to_"
	RefBrand      = "brand_"
	RefBrandsDone = "brands_done"
	RefBrandsAll  = "brand_all"
)

// DeactivateRef is the callback data for "deactivate subscription id".
func DeactivateRef(id int64) string { return RefDeactivate + strconv.FormatInt(id, 10) }

// KeepRef is the callback data for "keep subscription id active".
func KeepRef(id int64) string { return RefKeep + strconv.FormatInt(id, 10) }

// ParseIDRef extracts the numeric id from data carrying prefix.
func ParseIDRef(data, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(data, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
