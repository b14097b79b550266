package sirius

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-west1"

// DefaultRegions returns a fresh copy of the built-in region table, mapping
// region names to Sirius endpoint addresses. Callers may add or override
// entries before passing the table to NewSession.
func DefaultRegions() map[string]string {
	return map[string]string{
		"us-west1":             "us-west1.sirius.athera.io:443",
		"europe-west1":         "europe-west1.sirius.athera.io:443",
		"australia-southeast1": "australia-southeast1.sirius.athera.io:443",
	}
}

// ResolveRegion returns the endpoint address for region. An unknown region
// yields a *ConfigError wrapping ErrUnknownRegion that names the region.
func ResolveRegion(regions map[string]string, region string) (string, error) {
	addr, ok := regions[region]
	if !ok || addr == "" {
		return "", unknownRegionError(region, regions)
	}

	return addr, nil
}
