package client

// Endpoint maps an API region to its host and signing region.
type Endpoint struct {
	Host          string
	SigningRegion string
}

// regionEndpoints is the static region-to-host map.
var regionEndpoints = map[string]Endpoint{
	"na": {Host: "sellingpartnerapi-na.amazon.com", SigningRegion: "us-east-1"},
	"eu": {Host: "sellingpartnerapi-eu.amazon.com", SigningRegion: "eu-west-1"},
	"fe": {Host: "sellingpartnerapi-fe.amazon.com", SigningRegion: "us-west-2"},
}

// EndpointForRegion resolves a region code (na, eu, fe).
func EndpointForRegion(region string) (Endpoint, bool) {
	endpoint, ok := regionEndpoints[region]
	return endpoint, ok
}
