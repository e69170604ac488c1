package auth

import "encoding/json"

// LatestAuthVersion is the bearer token format the hub prefers. Advertised
// by the hub_info endpoint.
const LatestAuthVersion = "v1"

const (
	challengeHeader = "gaiahub"
	challengeSuffix = "blockstack_storage_please_sign"

	// currentEraMarker replaced the calendar-year markers of earlier
	// challenge formats. Tokens minted against year-marked texts stay
	// valid, see legacyEraMarkers.
	currentEraMarker = "0"
)

// legacyEraMarkers are the calendar years used by older challenge text
// formats. Tokens signed over these must remain acceptable indefinitely:
// clients hold long-lived tokens minted while those formats were current.
var legacyEraMarkers = []string{"2018", "2019", "2020"}

func challengeTextFor(eraMarker, serverName string) string {
	encoded, _ := json.Marshal([]string{challengeHeader, eraMarker, serverName, challengeSuffix})
	return string(encoded)
}

// ChallengeText returns the current challenge text for a server. New tokens
// must be signed over this exact string.
func ChallengeText(serverName string) string {
	return challengeTextFor(currentEraMarker, serverName)
}

// AcceptableChallengeTexts returns the current challenge text followed by
// every legacy text still honored for backward compatibility.
func AcceptableChallengeTexts(serverName string) []string {
	texts := make([]string, 0, 1+len(legacyEraMarkers))
	texts = append(texts, ChallengeText(serverName))
	for _, marker := range legacyEraMarkers {
		texts = append(texts, challengeTextFor(marker, serverName))
	}
	return texts
}
