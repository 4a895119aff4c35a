package classify

import "strings"

// vrCodes are studio codes whose presence in a filename marks VR content.
var vrCodes = []string{"SIVR", "IPVR", "DSVR", "KAVR", "MDVR", "RSRVR", "SSR", "VR", "FSVSS"}

// vrExclusions override a vrCodes match; DVRT contains "VR" but is not VR.
var vrExclusions = []string{"DVRT"}

// IsVR reports whether the file basename identifies VR content. Matching is
// case-insensitive: any studio code marks the file VR unless an exclusion
// code is also present.
func IsVR(basename string) bool {
	upper := strings.ToUpper(basename)
	vr := false
	for _, code := range vrCodes {
		if strings.Contains(upper, code) {
			vr = true
			break
		}
	}
	for _, code := range vrExclusions {
		if strings.Contains(upper, code) {
			vr = false
			break
		}
	}
	return vr
}
