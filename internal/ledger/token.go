package ledger

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const ledgerAPIClaim = "https://daml.com/ledger-api"

// token mints an unsigned (alg=none) bearer token carrying the ledger-api
// claim. The sandbox participant accepts these; a production participant
// would sit behind a real token issuer instead.
func (c *Client) token(actAs, readAs []string) (string, error) {
	api := map[string]interface{}{
		"ledgerId":      c.ledgerID,
		"applicationId": c.appID,
	}
	if len(actAs) > 0 {
		api["actAs"] = actAs
	}
	if len(readAs) > 0 {
		api["readAs"] = readAs
	}

	claims := jwt.MapClaims{
		"sub":          "bridge",
		ledgerAPIClaim: api,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return signed, nil
}
