package lifecycle

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewMediaBuyID mints a media buy id. A PO number, when present, is embedded
// so operations staff can find the buy from the purchase order alone.
func NewMediaBuyID(poNumber string) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	if po := sanitizeRef(poNumber); po != "" {
		return "buy_" + po + "_" + suffix
	}
	return "buy_" + suffix
}

// NewPackageID derives a package id from its parent buy and ordinal.
func NewPackageID(mediaBuyID string, ordinal int) string {
	return mediaBuyID + "_pkg_" + strconv.Itoa(ordinal)
}

// MediaBuyIDFromPackageID recovers the parent buy id from a package id minted
// by NewPackageID. The second return is false for foreign ids.
func MediaBuyIDFromPackageID(packageID string) (string, bool) {
	idx := strings.LastIndex(packageID, "_pkg_")
	if idx <= 0 {
		return "", false
	}
	return packageID[:idx], true
}

// NewStepID mints a workflow step id.
func NewStepID() string {
	return "step_" + uuid.NewString()
}

// sanitizeRef lowercases a buyer-supplied reference and keeps only characters
// safe in an id.
func sanitizeRef(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	return b.String()
}
