package common

// GetLocationFromArgs extracts the tenant location from request arguments.
// Returns an empty string when no location is provided; tool handlers are
// responsible for rejecting requests without one.
func GetLocationFromArgs(args map[string]interface{}) string {
	if locationVal, ok := args["locationId"].(string); ok {
		return locationVal
	}
	return ""
}
